package main

import (
	"fmt"

	"github.com/webmirror/webmirror/cmd/webmirror/client"
	"github.com/webmirror/webmirror/cmd/webmirror/commands"
	"github.com/webmirror/webmirror/internal/config"
	"github.com/webmirror/webmirror/internal/output"
)

func cmdStart(c *client.Client, cfg config.Config, args []string) *output.Result {
	url, opts, err := commands.StartArgs(args, cfg.Options)
	if err != nil {
		return commands.BuildResult("start", "", nil, err)
	}
	sess, err := c.StartSession(url, opts)
	if err != nil {
		return commands.BuildResult("start", "", nil, err)
	}
	return commands.BuildResult("start", sess.ID, map[string]any{"start_url": url, "status": string(sess.Status)}, nil)
}

func cmdStatus(c *client.Client, args []string) *output.Result {
	if len(args) == 0 {
		return commands.BuildResult("status", "", nil, fmt.Errorf("a session id is required"))
	}
	id := args[0]
	sess, err := c.GetSession(id)
	if err != nil {
		return commands.BuildResult("status", id, nil, err)
	}
	return commands.BuildResult("status", id, commands.SessionData(sess), nil)
}

func cmdList(c *client.Client) *output.Result {
	sessions, err := c.ListSessions()
	if err != nil {
		return commands.BuildResult("list", "", nil, err)
	}
	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.ID)
	}
	return commands.BuildResult("list", "", map[string]any{"sessions": ids, "count": len(ids)}, nil)
}

func cmdResume(c *client.Client, args []string) *output.Result {
	if len(args) == 0 {
		return commands.BuildResult("resume", "", nil, fmt.Errorf("a session id is required"))
	}
	id := args[0]
	sess, err := c.ResumeSession(id)
	if err != nil {
		return commands.BuildResult("resume", id, nil, err)
	}
	return commands.BuildResult("resume", id, map[string]any{"status": string(sess.Status)}, nil)
}

func cmdDelete(c *client.Client, args []string) *output.Result {
	if len(args) == 0 {
		return commands.BuildResult("delete", "", nil, fmt.Errorf("a session id is required"))
	}
	id := args[0]
	if err := c.DeleteSession(id); err != nil {
		return commands.BuildResult("delete", id, nil, err)
	}
	return commands.BuildResult("delete", id, map[string]any{"deleted": true}, nil)
}

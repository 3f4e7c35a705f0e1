// Package mcp exposes the squad read API as MCP tools over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"squadboard/internal/domain"
	"squadboard/internal/engine"
)

const actorID = "mcp"

// NewServer returns an MCP server with every squad tool registered.
func NewServer(e *engine.Engine, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"squadboard",
		version,
		server.WithToolCapabilities(true),
	)
	RegisterTools(s, e)
	return s
}

// RegisterTools adds the read tools plus refresh to s.
func RegisterTools(s *server.MCPServer, e *engine.Engine) {
	s.AddTool(snapshotTool(), snapshotHandler(e))
	s.AddTool(listMembersTool(), listMembersHandler(e))
	s.AddTool(memberTasksTool(), memberTasksHandler(e))
	s.AddTool(workDetailsTool(), workDetailsHandler(e))
	s.AddTool(decisionsTool(), decisionsHandler(e))
	s.AddTool(logsTool(), logsHandler(e))
	s.AddTool(issuesTool(), issuesHandler(e))
	s.AddTool(issuesByMemberTool(), issuesByMemberHandler(e))
	s.AddTool(refreshTool(), refreshHandler(e))
}

// --- snapshot ---

func snapshotTool() mcp.Tool {
	return mcp.NewTool("snapshot",
		mcp.WithDescription("Show the current root, squad folder and entity counts."),
	)
}

func snapshotHandler(e *engine.Engine) server.ToolHandlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		s, err := e.Snapshot(ctx)
		if err != nil {
			return toolError(err)
		}
		out := map[string]any{
			"root":       s.Layout.Root,
			"folder":     s.Layout.Folder,
			"exists":     s.Layout.Exists,
			"generation": s.Generation,
			"members":    len(s.Members),
			"tasks":      len(s.Tasks),
			"decisions":  len(s.Decisions),
		}
		if s.Roster != nil && s.Roster.Capabilities != nil {
			out["copilot_capabilities"] = s.Roster.Capabilities
		}
		return jsonResult(out)
	}
}

// --- members ---

func listMembersTool() mcp.Tool {
	return mcp.NewTool("list_members",
		mcp.WithDescription("List squad members with their role, working/idle status and current task."),
	)
}

func listMembersHandler(e *engine.Engine) server.ToolHandlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		members, err := e.ListMembers(ctx)
		if err != nil {
			return toolError(err)
		}
		if len(members) == 0 {
			return mcp.NewToolResultText("No members."), nil
		}
		var sb strings.Builder
		for _, m := range members {
			fmt.Fprintf(&sb, "%s  %s  %s", m.Name, m.Role, m.Status)
			if m.CurrentTask != nil {
				fmt.Fprintf(&sb, "  #%s %s", m.CurrentTask.ID, m.CurrentTask.Title)
			}
			sb.WriteByte('\n')
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func memberTasksTool() mcp.Tool {
	return mcp.NewTool("member_tasks",
		mcp.WithDescription("List the tasks assigned to one member, ordered by start time."),
		mcp.WithString("name",
			mcp.Description("Member name as shown by list_members"),
			mcp.Required(),
		),
	)
}

func memberTasksHandler(e *engine.Engine) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tasks, err := e.ListTasksForMember(ctx, req.GetString("name", ""))
		if err != nil {
			return toolError(err)
		}
		return jsonResult(tasks)
	}
}

// --- work details ---

func workDetailsTool() mcp.Tool {
	return mcp.NewTool("work_details",
		mcp.WithDescription("Show a task with its assignee and every log entry referencing the same issue."),
		mcp.WithString("task_id",
			mcp.Description("Task id, with or without a leading # (e.g. 42 or #42)"),
			mcp.Required(),
		),
	)
}

func workDetailsHandler(e *engine.Engine) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := req.GetString("task_id", "")
		wd, ok, err := e.GetWorkDetails(ctx, id)
		if err != nil {
			return toolError(err)
		}
		if !ok {
			return toolError(fmt.Errorf("task %s not found", id))
		}
		return jsonResult(wd)
	}
}

// --- decisions and logs ---

func decisionsTool() mcp.Tool {
	return mcp.NewTool("list_decisions",
		mcp.WithDescription("List recorded decisions, newest first."),
	)
}

func decisionsHandler(e *engine.Engine) server.ToolHandlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ds, err := e.ListDecisions(ctx)
		if err != nil {
			return toolError(err)
		}
		if len(ds) == 0 {
			return mcp.NewToolResultText("No decisions."), nil
		}
		var sb strings.Builder
		for _, d := range ds {
			date := d.Date
			if date == "" {
				date = "----------"
			}
			fmt.Fprintf(&sb, "%s  %s  (%s:%d)\n", date, d.Title, d.FilePath, d.LineNumber)
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func logsTool() mcp.Tool {
	return mcp.NewTool("list_logs",
		mcp.WithDescription("List session log entries of one stream, newest first."),
		mcp.WithString("stream",
			mcp.Description("active (default) or narrative"),
			mcp.Enum(string(domain.StreamActive), string(domain.StreamNarrative)),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum entries to return; 0 returns all"),
		),
	)
}

func logsHandler(e *engine.Engine) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		entries, err := e.ListLogEntries(ctx, domain.Stream(req.GetString("stream", "")))
		if err != nil {
			return toolError(err)
		}
		if limit := req.GetInt("limit", 0); limit > 0 && len(entries) > limit {
			entries = entries[:limit]
		}
		return jsonResult(entries)
	}
}

// --- issues ---

func issuesTool() mcp.Tool {
	return mcp.NewTool("list_issues",
		mcp.WithDescription("List tracker issues in one state. Closed issues are cached for a few minutes; force bypasses the cache."),
		mcp.WithString("state",
			mcp.Description("closed (default) or open"),
			mcp.Enum("open", "closed"),
		),
		mcp.WithBoolean("force",
			mcp.Description("Fetch from the tracker even when a cached list is fresh"),
		),
	)
}

func issuesHandler(e *engine.Engine) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		list, err := e.Issues(ctx, req.GetString("state", ""), req.GetBool("force", false))
		if err != nil {
			return toolError(err)
		}
		return jsonResult(list)
	}
}

func issuesByMemberTool() mcp.Tool {
	return mcp.NewTool("issues_by_member",
		mcp.WithDescription("Group tracker issues by the member they correlate to via labels or assignees."),
		mcp.WithString("state",
			mcp.Description("closed (default) or open"),
			mcp.Enum("open", "closed"),
		),
	)
}

func issuesByMemberHandler(e *engine.Engine) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		byMember, err := e.IssuesByMember(ctx, req.GetString("state", ""), false)
		if err != nil {
			return toolError(err)
		}
		if len(byMember) == 0 {
			return mcp.NewToolResultText("No correlated issues."), nil
		}
		members, err := e.ListMembers(ctx)
		if err != nil {
			return toolError(err)
		}
		var sb strings.Builder
		for _, name := range engine.MemberNames(byMember, members) {
			fmt.Fprintf(&sb, "%s\n", name)
			for _, is := range byMember[name] {
				fmt.Fprintf(&sb, "  #%d %s\n", is.Number, is.Title)
			}
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

// --- refresh ---

func refreshTool() mcp.Tool {
	return mcp.NewTool("refresh",
		mcp.WithDescription("Discard cached squad state so the next read re-scans the folder."),
	)
}

func refreshHandler(e *engine.Engine) server.ToolHandlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := e.Refresh(ctx, actorID); err != nil {
			return toolError(err)
		}
		s, err := e.Snapshot(ctx)
		if err != nil {
			return toolError(err)
		}
		return mcp.NewToolResultText(fmt.Sprintf("refreshed: generation %s", s.Generation)), nil
	}
}

func toolError(err error) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(err.Error()), nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

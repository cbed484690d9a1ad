package controller

import (
	"strings"

	"github.com/downfa11-org/bigqueue/pkg/config"
	"github.com/downfa11-org/bigqueue/pkg/disk"
	"github.com/downfa11-org/bigqueue/util"
)

type CommandHandler struct {
	DiskManager *disk.DiskManager
	Config      *config.Config
}

func NewCommandHandler(dm *disk.DiskManager, cfg *config.Config) *CommandHandler {
	return &CommandHandler{
		DiskManager: dm,
		Config:      cfg,
	}
}

func (ch *CommandHandler) logCommandResult(cmd, response string) {
	status := "SUCCESS"
	if strings.HasPrefix(response, "ERROR:") {
		status = "FAILURE"
	}
	cleanResponse := strings.ReplaceAll(response, "\n", " ")
	util.Debug("status: '%s', command: '%s' to Response '%s'", status, cmd, cleanResponse)
}

// HandleCommand parses one text command and returns the reply. Errors are
// reported in the reply with an "ERROR:" prefix.
func (ch *CommandHandler) HandleCommand(rawCmd string, ctx *ClientContext) string {
	cmd := strings.TrimSpace(rawCmd)
	if cmd == "" {
		resp := "ERROR: empty command"
		ch.logCommandResult(rawCmd, resp)
		return resp
	}

	keyword, rest, _ := strings.Cut(cmd, " ")
	var resp string
	switch strings.ToUpper(keyword) {
	case "HELP":
		resp = ch.handleHelp()
	case "LIST":
		resp = ch.handleList()
	case "CREATE":
		resp = ch.handleCreate(rest)
	case "ENQUEUE":
		resp = ch.handleEnqueue(rest)
	case "DEQUEUE":
		resp = ch.handleDequeue(rest, ctx)
	case "PEEK":
		resp = ch.handlePeek(rest, ctx)
	case "SIZE":
		resp = ch.handleSize(rest, ctx)
	case "SEEK":
		resp = ch.handleSeek(rest, ctx)
	case "FANOUT":
		resp = ch.handleFanout(rest, ctx)
	case "STATUS":
		resp = ch.handleStatus(rest)
	case "TRUNCATE":
		resp = ch.handleTruncate(rest)
	case "LIMIT":
		resp = ch.handleLimit(rest)
	case "WIPE":
		resp = ch.handleWipe(rest)
	case "FLUSH":
		resp = ch.handleFlush(rest)
	default:
		resp = "ERROR: unknown command: " + cmd + ". Type HELP for available commands."
	}

	ch.logCommandResult(rawCmd, resp)
	return resp
}

func parseKeyValueArgs(argsStr string) map[string]string {
	result := make(map[string]string)

	messageIdx := strings.Index(argsStr, "message=")

	if messageIdx != -1 {
		beforeMessage := argsStr[:messageIdx]
		parts := strings.Fields(beforeMessage)
		for _, part := range parts {
			kv := strings.SplitN(part, "=", 2)
			if len(kv) == 2 {
				result[kv[0]] = kv[1]
			}
		}
		result["message"] = strings.TrimSpace(argsStr[messageIdx+8:])
	} else {
		parts := strings.Fields(argsStr)
		for _, part := range parts {
			kv := strings.SplitN(part, "=", 2)
			if len(kv) == 2 {
				result[kv[0]] = kv[1]
			}
		}
	}
	return result
}

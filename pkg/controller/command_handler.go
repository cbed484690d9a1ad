package controller

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/downfa11-org/bigqueue/pkg/types"
	"github.com/downfa11-org/bigqueue/util"
)

// handleHelp processes HELP command
func (ch *CommandHandler) handleHelp() string {
	return `Available commands:
CREATE queue=<name> - open or create a queue
LIST - list all queues
ENQUEUE queue=<name> message=<text> - append a message
DEQUEUE queue=<name> [fanout=<id>] - consume the next message
PEEK queue=<name> [fanout=<id>] - read the next message without consuming it
SIZE queue=<name> [fanout=<id>] - number of messages not yet consumed
SEEK queue=<name> [fanout=<id>] time=<unix ms|latest|earliest>|index=<N> - move a fan-out cursor
FANOUT [id=<id>] - show or set the session fan-out id
STATUS queue=<name> - show tail, head and file usage
TRUNCATE queue=<name> before=<unix ms>|index=<N> - drop old messages
LIMIT queue=<name> bytes=<N> - drop old messages until the files fit
WIPE queue=<name> - delete every message
FLUSH [queue=<name>] - sync pages to disk
HELP - show this help
EXIT - exit`
}

// queueArg resolves the queue= argument. The returned reply is non-empty
// when the queue could not be resolved.
func (ch *CommandHandler) queueArg(args map[string]string, usage string) (types.QueueHandler, string) {
	name, ok := args["queue"]
	if !ok || name == "" {
		return nil, "ERROR: missing queue parameter. Expected: " + usage
	}
	q, err := ch.DiskManager.GetQueue(name)
	if err != nil {
		return nil, fmt.Sprintf("ERROR: queue '%s': %v", name, err)
	}
	return q, ""
}

func fanoutArg(args map[string]string, ctx *ClientContext) string {
	if id := args["fanout"]; id != "" {
		return id
	}
	if ctx == nil {
		return ""
	}
	return ctx.FanoutID
}

// handleCreate processes CREATE command
func (ch *CommandHandler) handleCreate(rest string) string {
	args := parseKeyValueArgs(rest)
	q, errResp := ch.queueArg(args, "CREATE queue=<name>")
	if errResp != "" {
		return errResp
	}
	return fmt.Sprintf("✅ Queue '%s' ready with %d messages", q.Name(), q.TotalSize())
}

// handleList processes LIST command
func (ch *CommandHandler) handleList() string {
	names, err := ch.DiskManager.ListQueues()
	if err != nil {
		return "ERROR: " + err.Error()
	}
	if len(names) == 0 {
		return "(no queues)"
	}
	return strings.Join(names, ", ")
}

// handleEnqueue processes ENQUEUE command
func (ch *CommandHandler) handleEnqueue(rest string) string {
	args := parseKeyValueArgs(rest)
	q, errResp := ch.queueArg(args, "ENQUEUE queue=<name> message=<text>")
	if errResp != "" {
		return errResp
	}
	message, ok := args["message"]
	if !ok {
		return "ERROR: missing message parameter. Expected: ENQUEUE queue=<name> message=<text>"
	}

	index, err := q.Enqueue([]byte(message))
	if err != nil {
		return "ERROR: enqueue failed: " + err.Error()
	}
	return fmt.Sprintf("✅ Enqueued to '%s' at index %d", q.Name(), index)
}

// handleDequeue processes DEQUEUE command
func (ch *CommandHandler) handleDequeue(rest string, ctx *ClientContext) string {
	return ch.consume(rest, ctx, "DEQUEUE", types.QueueHandler.Dequeue)
}

// handlePeek processes PEEK command
func (ch *CommandHandler) handlePeek(rest string, ctx *ClientContext) string {
	return ch.consume(rest, ctx, "PEEK", types.QueueHandler.Peek)
}

func (ch *CommandHandler) consume(rest string, ctx *ClientContext, name string, read func(types.QueueHandler, string) ([]byte, error)) string {
	args := parseKeyValueArgs(rest)
	q, errResp := ch.queueArg(args, name+" queue=<name> [fanout=<id>]")
	if errResp != "" {
		return errResp
	}
	id := fanoutArg(args, ctx)
	if id == "" {
		return "ERROR: missing fanout parameter. Expected: " + name + " queue=<name> fanout=<id>"
	}

	data, err := read(q, id)
	if err != nil {
		return fmt.Sprintf("ERROR: %s failed: %v", strings.ToLower(name), err)
	}
	if data == nil {
		return "(empty)"
	}
	return string(data)
}

// handleSize processes SIZE command
func (ch *CommandHandler) handleSize(rest string, ctx *ClientContext) string {
	args := parseKeyValueArgs(rest)
	q, errResp := ch.queueArg(args, "SIZE queue=<name> [fanout=<id>]")
	if errResp != "" {
		return errResp
	}
	id := fanoutArg(args, ctx)
	if id == "" {
		return strconv.FormatUint(q.TotalSize(), 10)
	}
	n, err := q.Size(id)
	if err != nil {
		return "ERROR: " + err.Error()
	}
	return strconv.FormatUint(n, 10)
}

// handleSeek processes SEEK command
func (ch *CommandHandler) handleSeek(rest string, ctx *ClientContext) string {
	const usage = "SEEK queue=<name> [fanout=<id>] time=<unix ms|latest|earliest>|index=<N>"
	args := parseKeyValueArgs(rest)
	q, errResp := ch.queueArg(args, usage)
	if errResp != "" {
		return errResp
	}
	id := fanoutArg(args, ctx)
	if id == "" {
		return "ERROR: missing fanout parameter. Expected: " + usage
	}

	index, errResp := resolveIndex(q, args, "time", usage)
	if errResp != "" {
		return errResp
	}
	if err := q.ResetQueueFrontIndex(id, index); err != nil {
		return "ERROR: seek failed: " + err.Error()
	}
	return fmt.Sprintf("✅ Fan-out '%s' of '%s' moved to index %d", id, q.Name(), index)
}

// resolveIndex reads index=<N>, or the index closest to <timeKey>=<unix ms>.
// latest and earliest select the head and the tail.
func resolveIndex(q types.QueueHandler, args map[string]string, timeKey, usage string) (uint64, string) {
	if s, ok := args["index"]; ok {
		index, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, "ERROR: index must be an unsigned integer"
		}
		return index, ""
	}
	s, ok := args[timeKey]
	if !ok {
		return 0, "ERROR: missing " + timeKey + " or index parameter. Expected: " + usage
	}
	var at time.Time
	switch strings.ToLower(s) {
	case "latest":
		at = types.Latest
	case "earliest":
		at = types.Earliest
	default:
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil || ms < 0 {
			return 0, "ERROR: " + timeKey + " must be unix milliseconds, latest or earliest"
		}
		at = time.UnixMilli(ms)
	}
	index, err := q.FindClosestIndex(at)
	if err != nil {
		return 0, "ERROR: find closest index: " + err.Error()
	}
	return index, ""
}

// handleFanout processes FANOUT command
func (ch *CommandHandler) handleFanout(rest string, ctx *ClientContext) string {
	if ctx == nil {
		return "ERROR: no client session"
	}
	args := parseKeyValueArgs(rest)
	id, ok := args["id"]
	if !ok {
		return "fan-out id: " + ctx.FanoutID
	}
	if err := util.ValidateName(id); err != nil {
		return "ERROR: " + err.Error()
	}
	ctx.SetFanoutID(id)
	return fmt.Sprintf("✅ Consuming as '%s'", id)
}

// handleStatus processes STATUS command
func (ch *CommandHandler) handleStatus(rest string) string {
	args := parseKeyValueArgs(rest)
	q, errResp := ch.queueArg(args, "STATUS queue=<name>")
	if errResp != "" {
		return errResp
	}
	size, err := q.BackFileSize()
	if err != nil {
		return "ERROR: " + err.Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "queue=%s tail=%d head=%d size=%d bytes=%d", q.Name(), q.TailIndex(), q.RearIndex(), q.TotalSize(), size)
	for _, id := range q.IDs() {
		n, err := q.Size(id)
		if err != nil {
			return "ERROR: " + err.Error()
		}
		fmt.Fprintf(&b, "\n  fanout=%s pending=%d", id, n)
	}
	return b.String()
}

// handleTruncate processes TRUNCATE command
func (ch *CommandHandler) handleTruncate(rest string) string {
	const usage = "TRUNCATE queue=<name> before=<unix ms>|index=<N>"
	args := parseKeyValueArgs(rest)
	q, errResp := ch.queueArg(args, usage)
	if errResp != "" {
		return errResp
	}

	var err error
	if s, ok := args["index"]; ok {
		index, perr := strconv.ParseUint(s, 10, 64)
		if perr != nil {
			return "ERROR: index must be an unsigned integer"
		}
		err = q.RemoveBeforeIndex(index)
	} else if s, ok := args["before"]; ok {
		ms, perr := strconv.ParseInt(s, 10, 64)
		if perr != nil {
			return "ERROR: before must be unix milliseconds"
		}
		err = q.RemoveBefore(time.UnixMilli(ms))
	} else {
		return "ERROR: missing before or index parameter. Expected: " + usage
	}
	if err != nil {
		return "ERROR: truncate failed: " + err.Error()
	}
	return fmt.Sprintf("✅ Queue '%s' tail is now %d", q.Name(), q.TailIndex())
}

// handleLimit processes LIMIT command
func (ch *CommandHandler) handleLimit(rest string) string {
	args := parseKeyValueArgs(rest)
	q, errResp := ch.queueArg(args, "LIMIT queue=<name> bytes=<N>")
	if errResp != "" {
		return errResp
	}
	limit := util.ParseInt64(args["bytes"], -1)
	if limit <= 0 {
		return "ERROR: bytes must be a positive integer"
	}
	if err := q.LimitBackFileSize(limit); err != nil {
		return "ERROR: limit failed: " + err.Error()
	}
	return fmt.Sprintf("✅ Queue '%s' tail is now %d", q.Name(), q.TailIndex())
}

// handleWipe processes WIPE command
func (ch *CommandHandler) handleWipe(rest string) string {
	args := parseKeyValueArgs(rest)
	q, errResp := ch.queueArg(args, "WIPE queue=<name>")
	if errResp != "" {
		return errResp
	}
	if err := q.RemoveAll(); err != nil {
		return "ERROR: wipe failed: " + err.Error()
	}
	return fmt.Sprintf("🗑️ Queue '%s' wiped", q.Name())
}

// handleFlush processes FLUSH command
func (ch *CommandHandler) handleFlush(rest string) string {
	args := parseKeyValueArgs(rest)
	if _, ok := args["queue"]; !ok {
		if err := ch.DiskManager.FlushAll(); err != nil {
			return "ERROR: flush failed: " + err.Error()
		}
		return "✅ Flushed all queues"
	}
	q, errResp := ch.queueArg(args, "FLUSH [queue=<name>]")
	if errResp != "" {
		return errResp
	}
	if err := q.Flush(); err != nil {
		return "ERROR: flush failed: " + err.Error()
	}
	return fmt.Sprintf("✅ Flushed '%s'", q.Name())
}

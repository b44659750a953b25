package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/opencode-ai/chatstream/internal/chat"
	"github.com/opencode-ai/chatstream/pkg/types"
)

const helpText = `Commands:
  /help                 Show this message
  /history              List the conversation
  /cancel               Stop the reply being streamed
  /edit <n|id> <text>   Replace the content of a message
  /delete <n|id>        Delete a message
  /clear                Forget the whole conversation
  /quit                 Leave (also /exit, Ctrl-D)

Anything else is sent as a message. End a line with \ to continue it.
Ctrl-C cancels a streaming reply; pressed while idle it quits.`

type commandType int

const (
	cmdUnknown commandType = iota
	cmdHelp
	cmdQuit
	cmdHistory
	cmdCancel
	cmdClear
	cmdEdit
	cmdDelete
)

type commandResult struct {
	Type commandType
	Ref  string
	Text string
	Raw  string
}

func parseCommand(input string) commandResult {
	raw := strings.TrimSpace(input)
	parts := strings.Fields(strings.TrimPrefix(raw, "/"))
	if len(parts) == 0 {
		return commandResult{Type: cmdUnknown, Raw: raw}
	}

	switch parts[0] {
	case "help", "?":
		return commandResult{Type: cmdHelp}
	case "exit", "quit", "q":
		return commandResult{Type: cmdQuit}
	case "history", "ls":
		return commandResult{Type: cmdHistory}
	case "cancel", "stop":
		return commandResult{Type: cmdCancel}
	case "clear", "reset":
		return commandResult{Type: cmdClear}
	case "delete", "rm":
		if len(parts) != 2 {
			return commandResult{Type: cmdUnknown, Raw: raw}
		}
		return commandResult{Type: cmdDelete, Ref: parts[1]}
	case "edit":
		if len(parts) < 3 {
			return commandResult{Type: cmdUnknown, Raw: raw}
		}
		// Keep the text's own spacing after the reference.
		rest := strings.TrimSpace(strings.TrimPrefix(raw, "/"+parts[0]))
		text := strings.TrimSpace(strings.TrimPrefix(rest, parts[1]))
		return commandResult{Type: cmdEdit, Ref: parts[1], Text: text}
	default:
		return commandResult{Type: cmdUnknown, Raw: raw}
	}
}

// resolveRef maps a 1-based position from /history, or a message id, to
// the id of a message in msgs.
func resolveRef(msgs []types.Message, ref string) (string, error) {
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(msgs) {
			return "", fmt.Errorf("no message #%d (have %d)", n, len(msgs))
		}
		return msgs[n-1].ID, nil
	}
	for _, m := range msgs {
		if m.ID == ref {
			return m.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %s", chat.ErrMessageNotFound, ref)
}

func readMultiline(reader *bufio.Reader, out io.Writer, prompt string) (string, error) {
	var lines []string
	for {
		p := prompt
		if len(lines) > 0 {
			p = "... "
		}
		fmt.Fprint(out, p)
		line, err := reader.ReadString('\n')
		if err != nil {
			if len(lines) == 0 {
				if err == io.EOF && strings.TrimSpace(line) != "" {
					return line, nil
				}
				return "", err
			}
			return strings.Join(append(lines, line), "\n"), nil
		}
		line = strings.TrimRight(line, "\r\n")
		if strings.HasSuffix(line, "\\") {
			lines = append(lines, strings.TrimSuffix(line, "\\"))
			continue
		}
		lines = append(lines, line)
		return strings.Join(lines, "\n"), nil
	}
}

// repl is the interactive loop over one store. Sends run in the
// background so the prompt stays usable while a reply streams.
type repl struct {
	store    *chat.Store
	renderer *Renderer
	in       *bufio.Reader
	prompt   io.Writer
	wg       sync.WaitGroup
}

func newRepl(store *chat.Store, renderer *Renderer, in io.Reader, prompt io.Writer) *repl {
	return &repl{
		store:    store,
		renderer: renderer,
		in:       bufio.NewReader(in),
		prompt:   prompt,
	}
}

// run reads lines until /quit or end of input, then waits for the last
// exchange to finish.
func (r *repl) run(ctx context.Context) error {
	defer r.wg.Wait()

	for {
		line, err := readMultiline(r.in, r.prompt, "> ")
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if quit := r.handle(ctx, line); quit {
			return nil
		}
	}
}

// handle processes one line and reports whether the loop should end.
func (r *repl) handle(ctx context.Context, line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	if !strings.HasPrefix(trimmed, "/") {
		r.send(ctx, trimmed)
		return false
	}

	cmd := parseCommand(trimmed)
	switch cmd.Type {
	case cmdQuit:
		r.store.Cancel()
		return true
	case cmdHelp:
		r.renderer.Help(helpText)
	case cmdHistory:
		r.renderer.History(r.store.Snapshot().Messages)
	case cmdCancel:
		if !r.store.Active() {
			r.renderer.Info("nothing to cancel")
			return false
		}
		r.store.Cancel()
		r.renderer.Info("cancelled")
	case cmdClear:
		r.store.Clear(ctx)
		r.renderer.Info("conversation cleared")
	case cmdDelete:
		id, err := resolveRef(r.store.Snapshot().Messages, cmd.Ref)
		if err == nil {
			err = r.store.Delete(ctx, id)
		}
		if err != nil {
			r.renderer.Error(err)
			return false
		}
		r.renderer.Info("deleted %s", id)
	case cmdEdit:
		id, err := resolveRef(r.store.Snapshot().Messages, cmd.Ref)
		if err == nil {
			err = r.store.Edit(ctx, id, cmd.Text)
		}
		if err != nil {
			r.renderer.Error(err)
			return false
		}
		r.renderer.Info("edited %s: %s", id, preview(cmd.Text, 40))
	default:
		r.renderer.Help(fmt.Sprintf("Unknown command: %s\n%s", cmd.Raw, helpText))
	}
	return false
}

// send starts an exchange. A running one is replaced by the store.
func (r *repl) send(ctx context.Context, content string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.store.Send(ctx, content); err != nil && !errors.Is(err, context.Canceled) {
			r.renderer.Error(err)
		}
	}()
}

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/glamour"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/codex-core/codex/internal/auth"
	"github.com/codex-core/codex/internal/checkpoint"
	"github.com/codex-core/codex/internal/config"
	"github.com/codex-core/codex/internal/history"
	"github.com/codex-core/codex/internal/logging"
	"github.com/codex-core/codex/internal/mcp"
	"github.com/codex-core/codex/internal/modelclient"
	"github.com/codex-core/codex/internal/protocol"
	"github.com/codex-core/codex/internal/session"
	"github.com/codex-core/codex/internal/toolexec"
)

func newSessionCmd() *cobra.Command {
	var (
		cwd            string
		model          string
		provider       string
		approvalPolicy string
		sandboxMode    string
		jsonMode       bool
	)

	cmd := &cobra.Command{
		Use:   "session",
		Short: "Run one SQ/EQ session against stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cwd == "" {
				wd, err := os.Getwd()
				if err != nil {
					return err
				}
				cwd = wd
			}
			raw := jsonMode || !isatty.IsTerminal(os.Stdout.Fd())
			return runSession(cmd.Context(), sessionOptions{
				cwd: cwd, model: model, provider: provider,
				approvalPolicy: approvalPolicy, sandboxMode: sandboxMode,
				raw: raw,
			})
		},
	}

	cmd.Flags().StringVar(&cwd, "cwd", "", "working directory (default: current directory)")
	cmd.Flags().StringVar(&model, "model", "", "override the configured model")
	cmd.Flags().StringVar(&provider, "provider", "", "override the configured provider")
	cmd.Flags().StringVar(&approvalPolicy, "approval-policy", "", "untrusted | on-failure | never")
	cmd.Flags().StringVar(&sandboxMode, "sandbox", "", "danger-full-access | read-only | workspace-write")
	cmd.Flags().BoolVar(&jsonMode, "json", false, "force raw JSON-lines transport even on a TTY")

	return cmd
}

type sessionOptions struct {
	cwd, model, provider, approvalPolicy, sandboxMode string
	raw                                                bool
}

// runSession wires one Collaborators bundle and drives the SQ/EQ loop: reads
// Submissions (JSON-lines in raw mode, plain text lines in human mode) from
// stdin, writes Events (JSON-lines or rendered prose) to stdout.
func runSession(ctx context.Context, opts sessionOptions) error {
	home, err := codexHome()
	if err != nil {
		return err
	}

	cfg, err := config.Load(home)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.model != "" {
		cfg.Model = opts.model
	}
	if opts.provider != "" {
		cfg.Provider = opts.provider
	}

	providerCfg, ok := cfg.Providers[cfg.Provider]
	if !ok {
		return fmt.Errorf("unknown provider %q", cfg.Provider)
	}

	authStore := auth.NewStore(home)
	authMgr := auth.NewManager(authStore)
	if err := authMgr.Load(); err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	if !authMgr.Current().Authenticated() {
		if key := cfg.ResolveAPIKey(cfg.Provider); key != "" {
			if err := authMgr.LoginWithAPIKey(key); err != nil {
				return fmt.Errorf("login with env api key: %w", err)
			}
		}
	}

	client := modelclient.New(modelclient.ProviderConfig{
		BaseURL: providerCfg.BaseURL,
		WireAPI: modelclient.WireAPI(providerCfg.WireAPI),
	}, authMgr, cfg.Model)

	histStore, err := history.New(home)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}

	hub := mcp.NewHub(home)
	defer hub.Close()

	shadowDir := config.ShadowGitDir(home)
	ckpt := checkpoint.New(opts.cwd, shadowDir)
	if err := ckpt.Init(); err != nil {
		logging.Warnf("checkpoint init failed, continuing without checkpoints: %v", err)
	}

	sess := session.New(session.Collaborators{
		Model:      client,
		Shell:      toolexec.NewShell(),
		Patch:      toolexec.NewPatch(),
		Mcp:        toolexec.NewMcp(hub),
		History:    histStore,
		Checkpoint: ckpt,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		sess.Submit(protocol.Submission{ID: "interrupt", Op: protocol.Op{Type: protocol.OpInterrupt}})
	}()

	go sess.Run(runCtx)

	sandboxPolicy := resolveSandboxPolicy(opts.sandboxMode, cfg.SandboxMode)
	approvalPolicy := protocol.ApprovalPolicy(cfg.ApprovalPolicy)
	if opts.approvalPolicy != "" {
		approvalPolicy = protocol.ApprovalPolicy(opts.approvalPolicy)
	}

	sess.Submit(protocol.Submission{
		ID: "configure",
		Op: protocol.Op{
			Type: protocol.OpConfigureSession,
			ConfigureSession: &protocol.ConfigureSessionOp{
				Provider:       cfg.Provider,
				Model:          cfg.Model,
				ApprovalPolicy: approvalPolicy,
				SandboxPolicy:  sandboxPolicy,
				Cwd:            opts.cwd,
			},
		},
	})

	if opts.raw {
		return runRawTransport(sess)
	}
	return runHumanTransport(sess)
}

func resolveSandboxPolicy(flagMode, configMode string) protocol.SandboxPolicy {
	mode := configMode
	if flagMode != "" {
		mode = flagMode
	}
	switch protocol.SandboxMode(mode) {
	case protocol.SandboxDangerFullAccess:
		return protocol.NewDangerFullAccessPolicy()
	case protocol.SandboxReadOnly:
		return protocol.NewReadOnlyPolicy()
	default:
		return protocol.NewWorkspaceWritePolicy(nil, false)
	}
}

// runRawTransport reads Submission JSON-lines from stdin and writes Event
// JSON-lines to stdout, the wire shape used by any non-interactive frontend
// (the bridge's websocket transport mirrors this same envelope).
func runRawTransport(sess *session.Session) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		enc := json.NewEncoder(os.Stdout)
		for ev := range sess.Events() {
			if err := enc.Encode(ev); err != nil {
				logging.Errorf("encode event: %v", err)
			}
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var sub protocol.Submission
		if err := json.Unmarshal([]byte(line), &sub); err != nil {
			logging.Errorf("decode submission: %v", err)
			continue
		}
		sess.Submit(sub)
	}
	sess.Submit(protocol.Submission{ID: "shutdown", Op: protocol.Op{Type: protocol.OpShutdown}})
	<-done
	return nil
}

// runHumanTransport reads one user message per line from stdin, prints
// streamed deltas as they arrive, and renders the final agent message as
// markdown once the turn completes. Stdin is read from a single goroutine
// so an approval reply and the next turn's input never race over the same
// stream; a pending approval's target id gates how the next line is used.
func runHumanTransport(sess *session.Session) error {
	out := termenv.NewOutput(os.Stdout)
	renderer, _ := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	var pendingExecID, pendingPatchID string
	turnN := 0

	fmt.Print("> ")
	var buf strings.Builder

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				sess.Submit(protocol.Submission{ID: "shutdown", Op: protocol.Op{Type: protocol.OpShutdown}})
				continue
			}
			switch {
			case pendingExecID != "":
				sess.Submit(approvalSubmission(pendingExecID, protocol.OpExecApproval, decisionFromReply(line)))
				pendingExecID = ""
			case pendingPatchID != "":
				sess.Submit(approvalSubmission(pendingPatchID, protocol.OpPatchApproval, decisionFromReply(line)))
				pendingPatchID = ""
			case strings.TrimSpace(line) == "":
				fmt.Print("> ")
			default:
				turnN++
				sess.Submit(protocol.Submission{
					ID: fmt.Sprintf("turn-%d", turnN),
					Op: protocol.Op{
						Type: protocol.OpUserInput,
						UserInput: &protocol.UserInputOp{
							Items: []protocol.InputItem{{Kind: protocol.InputItemText, Text: line}},
						},
					},
				})
			}

		case ev, ok := <-sess.Events():
			if !ok {
				return nil
			}
			switch ev.Msg.Type {
			case protocol.EventAgentMessageDelta:
				fmt.Print(ev.Msg.AgentMessageDelta.Delta)
				buf.WriteString(ev.Msg.AgentMessageDelta.Delta)

			case protocol.EventAgentMessage:
				if buf.Len() > 0 {
					if rendered, err := renderer.Render(buf.String()); err == nil {
						fmt.Print(rendered)
					}
				}
				buf.Reset()

			case protocol.EventExecCommandBegin:
				fmt.Println(out.String(fmt.Sprintf("$ %s", strings.Join(ev.Msg.ExecCommandBegin.Command, " "))).Faint())

			case protocol.EventExecApprovalRequest:
				pendingExecID = ev.Msg.ExecApprovalRequest.CallID
				fmt.Printf("approve command %q? [y/N] ", strings.Join(ev.Msg.ExecApprovalRequest.Command, " "))

			case protocol.EventApplyPatchApprovalReq:
				pendingPatchID = ev.Msg.ApplyPatchApprovalReq.CallID
				fmt.Print("approve patch? [y/N] ")

			case protocol.EventError:
				fmt.Println(out.String("error: " + ev.Msg.Error.Message).Foreground(termenv.ANSIRed))

			case protocol.EventTaskComplete:
				fmt.Print("\n> ")

			case protocol.EventShutdownComplete:
				return nil
			}
		}
	}
}

func decisionFromReply(line string) protocol.ReviewDecision {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return protocol.ReviewApproved
	case "a", "always":
		return protocol.ReviewApprovedForSession
	default:
		return protocol.ReviewDenied
	}
}

func approvalSubmission(targetID string, opType protocol.OpType, decision protocol.ReviewDecision) protocol.Submission {
	sub := protocol.Submission{ID: targetID + "-reply", Op: protocol.Op{Type: opType}}
	switch opType {
	case protocol.OpExecApproval:
		sub.Op.ExecApproval = &protocol.ExecApprovalOp{TargetID: targetID, Decision: decision}
	case protocol.OpPatchApproval:
		sub.Op.PatchApproval = &protocol.PatchApprovalOp{TargetID: targetID, Decision: decision}
	}
	return sub
}

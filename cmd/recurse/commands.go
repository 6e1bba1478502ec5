package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/recurse/internal/agent"
	"github.com/haasonsaas/recurse/internal/budget"
	"github.com/haasonsaas/recurse/internal/interp"
	"github.com/haasonsaas/recurse/internal/orchestrator"
	"github.com/haasonsaas/recurse/internal/pricing"
	"github.com/haasonsaas/recurse/internal/sessions"
	"github.com/haasonsaas/recurse/internal/trajectory"
)

// newRunCmd drives one completion.
func newRunCmd(configPath *string) *cobra.Command {
	var (
		model         string
		system        string
		maxDepth      int
		tokenBudget   int
		costBudget    float64
		toolBudget    int
		timeout       time.Duration
		subCalls      bool
		parallel      bool
		forceJSON     bool
		stream        bool
		jsonOut       bool
		trajectoryLog string
	)

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run one completion (pass - to read the prompt from stdin)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := setupApp(*configPath)
			if err != nil {
				return err
			}
			defer app.sessions.Close()

			prompt, err := promptFromArgs(args)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg := app.cfg
			opts := orchestrator.Options{
				Model:            pick(model, cfg.Provider.Model),
				System:           system,
				MaxTokensPerCall: cfg.Provider.MaxTokensPerCall,
				MaxDepth:         pickInt(cmd, "max-depth", maxDepth, cfg.Budgets.MaxDepth),
				TokenBudget:      pickInt(cmd, "token-budget", tokenBudget, cfg.Budgets.TokenBudget),
				ToolBudget:       pickInt(cmd, "tool-budget", toolBudget, cfg.Budgets.ToolBudget),
				Timeout:          timeout,
				ParallelTools:    parallel || cfg.Tools.Parallel,
				MaxParallel:      cfg.Tools.MaxParallel,
				ForceJSON:        forceJSON,
			}
			if !cmd.Flags().Changed("timeout") {
				opts.Timeout = time.Duration(cfg.Budgets.TimeoutSeconds) * time.Second
			}
			cb := costBudget
			if !cmd.Flags().Changed("cost-budget") {
				cb = cfg.Budgets.CostBudgetUSD
			}
			if cb > 0 {
				opts.CostBudgetUSD = &cb
			}
			if subCalls || cfg.SubCalls.Enabled {
				opts.SubCalls = orchestrator.SubCallOptions{
					Enabled:           true,
					MaxPerTurn:        cfg.SubCalls.MaxPerTurn,
					InheritanceFactor: cfg.SubCalls.BudgetInheritance,
				}
				if costCap := cfg.SubCalls.MaxCostPerSession; costCap > 0 {
					opts.SubCalls.MaxCostPerSession = &costCap
				}
			}
			if trajectoryLog != "" {
				sink, err := trajectory.OpenJSONLFile(trajectoryLog, "")
				if err != nil {
					return err
				}
				defer sink.Close()
				opts.Sinks = append(opts.Sinks, sink)
			}

			// The sandbox rides along as an ordinary tool.
			opts.Extras = append(opts.Extras, sessions.NewExecTool(app.sessions, ""))
			opts.Extras = append(opts.Extras, sessions.ContextTools(app.sessions, "")...)

			if stream {
				return streamCompletion(ctx, app, prompt, opts)
			}

			res, err := app.engine.Complete(ctx, prompt, opts)
			if err != nil {
				return completionError(ctx, res, err, jsonOut)
			}
			return printRunResult(res, jsonOut)
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "Model override")
	cmd.Flags().StringVar(&system, "system", "", "System prompt")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "Max recursion depth")
	cmd.Flags().IntVar(&tokenBudget, "token-budget", 0, "Token budget")
	cmd.Flags().Float64Var(&costBudget, "cost-budget", 0, "Cost budget in USD (0 disables)")
	cmd.Flags().IntVar(&toolBudget, "tool-budget", 0, "Tool-call budget")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Wallclock deadline")
	cmd.Flags().BoolVar(&subCalls, "sub-calls", false, "Enable sub-completion tools")
	cmd.Flags().BoolVar(&parallel, "parallel-tools", false, "Dispatch tool calls concurrently")
	cmd.Flags().BoolVar(&forceJSON, "force-json", false, "Request JSON output")
	cmd.Flags().BoolVar(&stream, "stream", false, "Stream the response (text-only, no tools)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the result as JSON")
	cmd.Flags().StringVar(&trajectoryLog, "trajectory-log", "", "Append trajectory events to this JSONL file")
	return cmd
}

// newAgentCmd drives an agent run to termination.
func newAgentCmd(configPath *string) *cobra.Command {
	var (
		model         string
		system        string
		maxIterations int
		maxDepth      int
		tokenBudget   int
		costLimit     float64
		timeout       time.Duration
		autoContext   bool
		sessionID     string
		jsonOut       bool
		trajectoryLog string
	)

	cmd := &cobra.Command{
		Use:   "agent [task]",
		Short: "Run the autonomous agent loop on a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := setupApp(*configPath)
			if err != nil {
				return err
			}
			defer app.sessions.Close()

			task, err := promptFromArgs(args)
			if err != nil {
				return err
			}

			cfg := app.cfg
			acfg := agent.Config{
				Model:         pick(model, cfg.Provider.Model),
				System:        system,
				MaxIterations: pickInt(cmd, "max-iterations", maxIterations, cfg.Agent.MaxIterations),
				MaxDepth:      pickInt(cmd, "max-depth", maxDepth, cfg.Budgets.MaxDepth),
				TokenBudget:   pickInt(cmd, "token-budget", tokenBudget, cfg.Budgets.TokenBudget),
				CostLimitUSD:  costLimit,
				Timeout:       timeout,
				ToolBudget:    cfg.Budgets.ToolBudget,
				ParallelTools: cfg.Tools.Parallel,
				MaxParallel:   cfg.Tools.MaxParallel,
				AutoContext:   autoContext || cfg.Agent.AutoContext,
				ContextBudget: cfg.Agent.ContextBudget,
				SessionID:     sessionID,
			}
			if !cmd.Flags().Changed("cost-limit") {
				acfg.CostLimitUSD = cfg.Agent.CostLimitUSD
			}
			if !cmd.Flags().Changed("timeout") {
				acfg.Timeout = time.Duration(cfg.Budgets.TimeoutSeconds) * time.Second
			}
			if cfg.SubCalls.Enabled {
				acfg.SubCalls = orchestrator.SubCallOptions{
					Enabled:           true,
					MaxPerTurn:        cfg.SubCalls.MaxPerTurn,
					InheritanceFactor: cfg.SubCalls.BudgetInheritance,
				}
				if costCap := cfg.SubCalls.MaxCostPerSession; costCap > 0 {
					acfg.SubCalls.MaxCostPerSession = &costCap
				}
			}
			acfg.TrajectoryLog = trajectoryLog
			if trajectoryLog == "" {
				acfg.TrajectoryLog = cfg.Agent.TrajectoryLog
			}

			runner := agent.NewRunner(app.engine, app.sessions, acfg, app.logger)

			// First signal cancels cooperatively; the run finishes its
			// in-flight iteration and returns a cancelled Result.
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			go func() {
				<-sigCh
				runner.Cancel()
			}()

			res, err := runner.Run(cmd.Context(), task)
			if err != nil {
				if res != nil {
					_ = printAgentResult(res, jsonOut)
				}
				return &exitError{code: exitInternal, err: err}
			}
			if err := printAgentResult(res, jsonOut); err != nil {
				return err
			}
			if res.ForcedTermination {
				if res.TerminalType == agent.TerminalCancelled {
					return &exitError{code: exitCancelled, err: errors.New("agent run cancelled")}
				}
				return &exitError{code: exitBudget, err: fmt.Errorf("agent run forced to stop: %s", res.TerminalType)}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "Model override")
	cmd.Flags().StringVar(&system, "system", "", "System prompt")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "Iteration cap")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "Max recursion depth")
	cmd.Flags().IntVar(&tokenBudget, "token-budget", 0, "Token budget")
	cmd.Flags().Float64Var(&costLimit, "cost-limit", 0, "Cost limit in USD")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Wallclock deadline")
	cmd.Flags().BoolVar(&autoContext, "auto-context", false, "Fetch documentation for the task on iteration 1")
	cmd.Flags().StringVar(&sessionID, "session", "", "Interpreter session id")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the result as JSON")
	cmd.Flags().StringVar(&trajectoryLog, "trajectory-log", "", "Append trajectory events to this JSONL file")
	return cmd
}

// newExecCmd runs code directly in the sandbox, no LLM involved.
func newExecCmd(configPath *string) *cobra.Command {
	var (
		profile   string
		sessionID string
		file      string
		jsonOut   bool
	)

	cmd := &cobra.Command{
		Use:   "exec [code]",
		Short: "Execute code in the interpreter sandbox",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := setupApp(*configPath)
			if err != nil {
				return err
			}
			defer app.sessions.Close()

			var code string
			switch {
			case file != "":
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				code = string(data)
			case len(args) > 0:
				code, err = promptFromArgs(args)
				if err != nil {
					return err
				}
			default:
				return errors.New("pass code as an argument or use --file")
			}

			res := app.sessions.Execute(cmd.Context(), sessionID, code, interp.ProfileByName(profile))
			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(res)
			}
			if res.Output != "" {
				fmt.Println(res.Output)
			}
			if res.Truncated {
				fmt.Fprintln(os.Stderr, "[output truncated]")
			}
			if res.ErrorKind != "" {
				return &exitError{code: exitInternal, err: fmt.Errorf("%s: %s", res.ErrorKind, res.Error)}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&profile, "profile", "default", "Resource profile: quick, default, analysis, extended")
	cmd.Flags().StringVar(&sessionID, "session", "", "Session id (empty runs in a throwaway session)")
	cmd.Flags().StringVar(&file, "file", "", "Read code from a file")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the InterpreterResult as JSON")
	return cmd
}

func streamCompletion(ctx context.Context, app *app, prompt string, opts orchestrator.Options) error {
	chunks, err := app.engine.Stream(ctx, prompt, opts)
	if err != nil {
		var berr *budget.Error
		if errors.As(err, &berr) {
			return &exitError{code: exitBudget, err: err}
		}
		return err
	}
	for ch := range chunks {
		if ch.Err != nil {
			return ch.Err
		}
		fmt.Print(ch.Text)
	}
	fmt.Println()
	return nil
}

// completionError maps a failed Complete call to the right exit code,
// printing whatever partial result exists.
func completionError(ctx context.Context, res *orchestrator.Result, err error, jsonOut bool) error {
	if res != nil && res.BudgetViolation != nil {
		_ = printRunResult(res, jsonOut)
		return &exitError{code: exitBudget, err: err}
	}
	if ctx.Err() != nil {
		return &exitError{code: exitCancelled, err: err}
	}
	return &exitError{code: exitInternal, err: err}
}

func printRunResult(res *orchestrator.Result, jsonOut bool) error {
	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(map[string]any{
			"response":         res.Response,
			"parsed":           res.Parsed,
			"trajectory_id":    res.TrajectoryID,
			"total_calls":      res.TotalCalls,
			"total_tokens":     res.TotalTokens,
			"total_tool_calls": res.TotalToolCalls,
			"total_cost_usd":   res.TotalCostUSD,
			"duration_ms":      res.Duration.Milliseconds(),
			"budget_violation": res.BudgetViolation,
		})
	}
	if res.Response != "" {
		fmt.Println(res.Response)
	}
	fmt.Fprintf(os.Stderr, "calls=%d tokens=%d tools=%d cost=%s duration=%s trajectory=%s\n",
		res.TotalCalls, res.TotalTokens, res.TotalToolCalls,
		pricing.FormatCost(res.TotalCostUSD), res.Duration.Round(time.Millisecond), res.TrajectoryID)
	return nil
}

func printAgentResult(res *agent.Result, jsonOut bool) error {
	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(map[string]any{
			"answer":             res.Answer,
			"terminal_type":      res.TerminalType,
			"forced_termination": res.ForcedTermination,
			"iterations":         res.Iterations,
			"total_tokens":       res.TotalTokens,
			"total_tool_calls":   res.TotalToolCalls,
			"total_cost_usd":     res.TotalCostUSD,
			"duration_ms":        res.Duration.Milliseconds(),
			"trajectory_id":      res.TrajectoryID,
			"session_id":         res.SessionID,
		})
	}
	if res.Answer != "" {
		fmt.Println(res.Answer)
	}
	fmt.Fprintf(os.Stderr, "terminal=%s forced=%v iterations=%d tokens=%d cost=%s session=%s\n",
		res.TerminalType, res.ForcedTermination, res.Iterations, res.TotalTokens,
		pricing.FormatCost(res.TotalCostUSD), res.SessionID)
	return nil
}

func pick(flag, fallback string) string {
	if flag != "" {
		return flag
	}
	return fallback
}

func pickInt(cmd *cobra.Command, name string, flag, fallback int) int {
	if cmd.Flags().Changed(name) {
		return flag
	}
	return fallback
}

// Package text2sqlctl is the command-line client for the text2sql HTTP API.
package text2sqlctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
	// NewThreadID generates ids for ask without --thread.
	NewThreadID func() string
}

// usageError marks failures that exit with code 2.
type usageError struct{ error }

type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("http %d: %s", e.status, e.body)
}

type client struct {
	baseURL string
	http    *http.Client
}

// Run executes one command and returns the process exit code.
func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}
	if defaults.NewThreadID == nil {
		defaults.NewThreadID = uuid.NewString
	}

	root := newRootCommand(&defaults, stdout, stderr)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var usage usageError
	if errors.As(err, &usage) || strings.HasPrefix(err.Error(), "unknown command") {
		_, _ = fmt.Fprintln(stderr, err.Error())
		_, _ = fmt.Fprint(stderr, root.UsageString())
		return 2
	}
	var httpErr *httpError
	if errors.As(err, &httpErr) {
		_, _ = fmt.Fprintln(stderr, httpErr.Error())
		return 1
	}
	_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
	return 1
}

func newRootCommand(opts *Options, stdout, stderr io.Writer) *cobra.Command {
	var (
		baseURL string
		timeout time.Duration
	)
	c := &client{}

	root := &cobra.Command{
		Use:           "text2sqlctl",
		Short:         "Ask questions about your database through the text2sql API",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args: cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return usageError{errors.New("command is required")}
		},
		PersistentPreRun: func(*cobra.Command, []string) {
			c.baseURL = strings.TrimRight(baseURL, "/")
			c.http = opts.HTTPClient
			if c.http == nil {
				c.http = &http.Client{Timeout: timeout}
			}
		},
	}
	root.PersistentFlags().StringVar(&baseURL, "base-url", firstNonEmpty(opts.BaseURL, "http://localhost:8080"), "text2sql API base URL")
	root.PersistentFlags().DurationVar(&timeout, "timeout", durationOr(opts.Timeout, 60*time.Second), "HTTP timeout (e.g. 30s)")

	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	root.AddCommand(
		jsonCommand(c, stdout, "health", "Check liveness", http.MethodGet, "/v1/health"),
		jsonCommand(c, stdout, "ready", "Check readiness of the database, index and stores", http.MethodGet, "/v1/ready"),
		jsonCommand(c, stdout, "reindex", "Reindex the database schema", http.MethodPost, "/v1/schema/reindex"),
		jsonCommand(c, stdout, "discover", "Show what the database can answer", http.MethodGet, "/v1/discovery"),
		askCommand(c, opts, stdout, stderr),
		threadCommand(c, stdout, "reset <thread>", "Clear a conversation thread", http.MethodDelete),
		threadCommand(c, stdout, "history <thread>", "Show the messages of a thread", http.MethodGet),
		tablesCommand(c, stdout),
		translateCommand(c, stdout),
	)
	return root
}

func jsonCommand(c *client, stdout io.Writer, use, short, method, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.printJSON(cmd.Context(), stdout, method, path, nil)
		},
	}
}

func threadCommand(c *client, stdout io.Writer, use, short, method string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.printJSON(cmd.Context(), stdout, method, "/v1/threads/"+url.PathEscape(args[0]), nil)
		},
	}
}

func askCommand(c *client, opts *Options, stdout, stderr io.Writer) *cobra.Command {
	var thread string
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question within a conversation thread",
		Long: `Ask a question within a conversation thread.

Without --thread a new thread id is generated and printed to stderr so that
follow-up questions can reuse it. Send "/clear" to reset the thread.`,
		Args: usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(thread) == "" {
				thread = opts.NewThreadID()
			}
			payload := map[string]string{"question": strings.Join(args, " ")}
			body, err := c.do(cmd.Context(), http.MethodPost, "/v1/threads/"+url.PathEscape(thread)+"/turns", payload)
			if err != nil {
				return err
			}
			var resp struct {
				ThreadID string `json:"thread_id"`
				Answer   string `json:"answer"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("decode answer: %w", err)
			}
			_, _ = fmt.Fprintf(stderr, "thread: %s\n", resp.ThreadID)
			_, _ = fmt.Fprintln(stdout, resp.Answer)
			return nil
		},
	}
	cmd.Flags().StringVarP(&thread, "thread", "t", "", "conversation thread id")
	return cmd
}

func tablesCommand(c *client, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "tables <question>",
		Short: "List the tables relevant to a question",
		Args:  usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/schema/tables?question=" + url.QueryEscape(strings.Join(args, " "))
			return c.printJSON(cmd.Context(), stdout, http.MethodGet, path, nil)
		},
	}
}

func translateCommand(c *client, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "translate <question>",
		Short: "Translate a question to SQL without running it",
		Args:  usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]string{"question": strings.Join(args, " ")}
			return c.printJSON(cmd.Context(), stdout, http.MethodPost, "/v1/query/translate", payload)
		},
	}
}

func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

func (c *client) printJSON(ctx context.Context, stdout io.Writer, method, path string, payload any) error {
	body, err := c.do(ctx, method, path, payload)
	if err != nil {
		return err
	}
	if pretty, ok := prettyJSON(body); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return nil
	}
	if len(body) > 0 {
		_, _ = fmt.Fprintln(stdout, string(body))
	}
	return nil
}

func (c *client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, &httpError{status: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}
	return body, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}

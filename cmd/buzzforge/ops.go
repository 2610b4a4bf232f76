package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	bfhttp "github.com/Strob0t/BuzzForge/internal/adapter/http"
	"github.com/Strob0t/BuzzForge/internal/domain/pipeline"
	"github.com/Strob0t/BuzzForge/internal/domain/schedule"
	"github.com/Strob0t/BuzzForge/internal/service"
)

// opsClient calls the ops API of a running scheduler.
type opsClient struct {
	base string
	http *http.Client
}

func newOpsClient(base string, timeout time.Duration) *opsClient {
	return &opsClient{base: strings.TrimRight(base, "/"), http: &http.Client{Timeout: timeout}}
}

func (c *opsClient) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s: %s (%d)", method, path, e.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	return json.Unmarshal(body, out)
}

// opsFlags are shared by check and status.
type opsFlags struct {
	config  string
	opsURL  string
	asJSON  bool
	timeout time.Duration
}

func (f *opsFlags) register(fs *flag.FlagSet, timeout time.Duration) {
	fs.StringVar(&f.config, "config", "", "YAML config file")
	fs.StringVar(&f.opsURL, "ops-url", "", "ops API base URL (overrides scheduler.ops_url)")
	fs.BoolVar(&f.asJSON, "json", false, "print raw JSON")
	fs.DurationVar(&f.timeout, "timeout", timeout, "request timeout")
}

func (f *opsFlags) client() (*opsClient, error) {
	base := f.opsURL
	if base == "" {
		cfg, err := loadConfig(f.config)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		base = cfg.Scheduler.OpsURL
	}
	return newOpsClient(base, f.timeout), nil
}

// runCheck fires a trigger and waits for its job to finish.
func runCheck(args []string) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	var f opsFlags
	f.register(fs, 30*time.Minute)
	trigger := fs.String("trigger", schedule.TriggerBuzzCheck, "trigger to fire")
	theme := fs.String("theme", "", "run one pipeline for this theme instead of firing a trigger")
	template := fs.String("template", "", "pipeline template for -theme")
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, err := f.client()
	if err != nil {
		return err
	}
	ctx := context.Background()

	if *theme != "" {
		return startPipeline(ctx, c, *theme, *template, f.asJSON)
	}

	var res service.FireResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/scheduler/triggers/"+*trigger, &res); err != nil {
		return err
	}
	if f.asJSON {
		return printJSON(res)
	}
	switch {
	case res.Skipped:
		fmt.Printf("%s skipped: previous run still active\n", res.Trigger)
	case res.Error != "":
		fmt.Printf("%s %s after %s: %s\n", res.Trigger, paint("failed", colorRed), res.Duration.Round(time.Millisecond), res.Error)
		return fmt.Errorf("trigger %s failed", res.Trigger)
	default:
		fmt.Printf("%s %s in %s\n", res.Trigger, paint("ok", colorGreen), res.Duration.Round(time.Millisecond))
	}
	return nil
}

func startPipeline(ctx context.Context, c *opsClient, theme, template string, asJSON bool) error {
	body, err := json.Marshal(bfhttp.StartPipelineRequest{Theme: theme, TemplateID: template})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/v1/pipelines", strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("start pipeline: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var out bfhttp.StartPipelineResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if asJSON {
		return printJSON(out)
	}
	fmt.Printf("pipeline run %s started for %q\n", out.ID, theme)
	return nil
}

// runStatus prints the scheduler state and the most recent runs.
func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	var f opsFlags
	f.register(fs, 10*time.Second)
	runs := fs.Int("runs", 10, "number of recent pipeline runs to show")
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, err := f.client()
	if err != nil {
		return err
	}
	ctx := context.Background()

	var st schedule.State
	if err := c.do(ctx, http.MethodGet, "/api/v1/scheduler/status", &st); err != nil {
		return err
	}
	var recent []pipeline.Run
	if *runs > 0 {
		if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/pipelines?limit=%d", *runs), &recent); err != nil {
			return err
		}
	}
	if f.asJSON {
		return printJSON(map[string]any{"scheduler": st, "runs": recent})
	}
	printStatus(os.Stdout, &st, recent, time.Now())
	return nil
}

func printStatus(w io.Writer, st *schedule.State, runs []pipeline.Run, now time.Time) {
	state := paint("stopped", colorRed)
	if st.Running {
		state = paint("running", colorGreen)
	}
	fmt.Fprintf(w, "Scheduler %s (%s), quota %d/%d used, %d remaining\n\n",
		state, st.Location, st.Quota.Limit-st.Remaining, st.Quota.Limit, st.Remaining)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TRIGGER\tSCHEDULE\tNEXT\tLAST\tFIRED\tSKIPPED\tFAILED\tLAST ERROR")
	for _, t := range st.Triggers {
		next := "-"
		if !t.NextFireAt.IsZero() {
			next = t.NextFireAt.Format(time.DateTime) + " (in " + t.NextFireAt.Sub(now).Round(time.Minute).String() + ")"
		}
		last := "-"
		if t.Running {
			last = "running"
		} else if !t.LastFiredAt.IsZero() {
			last = t.LastFiredAt.Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			t.Name, t.Spec, next, last, t.Fired, t.Skipped, t.Failed, truncate(t.LastError, 40))
	}
	_ = tw.Flush()

	if len(runs) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tSTATUS\tSCORES\tTHEME")
	for i := range runs {
		r := &runs[i]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			shortID(r.ID), r.StartedAt.Format(time.DateTime), statusColor(r.Status), formatScores(r.Scores()), truncate(r.Theme, themeWidth()))
	}
	_ = tw.Flush()
}

func statusColor(s pipeline.Status) string {
	switch s {
	case pipeline.StatusAccepted:
		return paint(string(s), colorGreen)
	case pipeline.StatusEscalated:
		return paint(string(s), colorYellow)
	case pipeline.StatusAborted:
		return paint(string(s), colorRed)
	default:
		return string(s)
	}
}

func formatScores(scores []float64) string {
	if len(scores) == 0 {
		return "-"
	}
	parts := make([]string, len(scores))
	for i, s := range scores {
		parts[i] = fmt.Sprintf("%.0f", s)
	}
	return strings.Join(parts, "→")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 3 || len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// themeWidth leaves the theme column whatever the terminal has left.
func themeWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width < 100 {
		return 40
	}
	return width - 60
}

const (
	colorRed    = "31"
	colorGreen  = "32"
	colorYellow = "33"
)

// paint colors s when stdout is a terminal.
func paint(s, color string) string {
	if !term.IsTerminal(int(os.Stdout.Fd())) || os.Getenv("NO_COLOR") != "" {
		return s
	}
	return "\x1b[" + color + "m" + s + "\x1b[0m"
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

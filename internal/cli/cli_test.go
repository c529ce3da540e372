package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/medresearch/internal/client"
	"github.com/raphaelgruber/medresearch/internal/metrics"
	"github.com/raphaelgruber/medresearch/internal/models"
	"github.com/raphaelgruber/medresearch/internal/server"
	"github.com/raphaelgruber/medresearch/internal/service"
	"github.com/raphaelgruber/medresearch/internal/store/memory"
)

const testUser = "ada@example.com"

type agentFunc func(ctx context.Context, req service.AgentRequest) (string, error)

func (f agentFunc) Invoke(ctx context.Context, req service.AgentRequest) (string, error) {
	return f(ctx, req)
}

type fixedTitle string

func (t fixedTitle) GenerateTitle(context.Context, string) (string, error) {
	return string(t), nil
}

func researchAgent(ctx context.Context, req service.AgentRequest) (string, error) {
	if req.Status != nil {
		req.Status("Searching Semantic Scholar...")
	}
	_, err := req.Findings.Create(ctx, models.NewFinding{
		DialogID:        req.DialogID,
		Title:           "GLP-1 agonists and weight loss",
		Source:          "NEJM 2021",
		RelevanceReason: "randomized, 1961 participants",
		Citations:       2,
		PaperLinks:      []models.Link{{Title: "STEP 1", URL: "https://nejm.org/step1"}},
	})
	return "Semaglutide reduced body weight by about 15%.", err
}

func newTestServer(t *testing.T) string {
	t.Helper()
	st := memory.New()
	collector := metrics.NewCollector()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	api := server.NewAPI(server.APIDeps{
		Conversation: service.NewConversationService(st, agentFunc(researchAgent), fixedTitle("GLP-1 Weight Loss"),
			service.NewTurnTracker(10), collector, logger, service.ConversationOptions{AgentTimeout: time.Second}),
		Dialogs:   service.NewDialogService(st),
		Users:     service.NewUserService(st),
		Collector: collector,
		Logger:    logger,
	})
	srv := httptest.NewServer(api.Router())
	t.Cleanup(srv.Close)
	return srv.URL
}

// run executes the root command against url with fresh flag state.
func run(t *testing.T, url, stdin string, args ...string) (string, string, error) {
	t.Helper()
	verbose, serverURL, userEmail = false, "", ""
	chatDialog, chatPlain = 0, false
	deleteForce, findingsExcluded = false, false
	exportDialog, exportFormat = 0, "markdown"

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(append([]string{"--server", url, "--user", testUser}, args...))
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func seedDialog(t *testing.T, url string) (int64, int64) {
	t.Helper()
	ctx := context.Background()
	c := client.New(url, testUser)
	res, err := c.Send(ctx, 0, "Does semaglutide help with weight loss?")
	require.NoError(t, err)
	findings, err := c.ListFindings(ctx, res.Dialog.ID)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	return res.Dialog.ID, findings[0].ID
}

func TestRootRequiresUser(t *testing.T) {
	t.Setenv("MEDRESEARCH_USER", "")
	verbose, serverURL, userEmail = false, "", ""
	rootCmd.SetArgs([]string{"dialogs"})
	rootCmd.SetOut(io.Discard)
	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no user")
}

func TestChatOneShot(t *testing.T) {
	url := newTestServer(t)

	out, stderr, err := run(t, url, "", "chat", "Does semaglutide help?")
	require.NoError(t, err)
	assert.Contains(t, out, "Semaglutide reduced body weight")
	assert.Contains(t, out, "GLP-1 Weight Loss")
	assert.Contains(t, stderr, "Searching Semantic Scholar...")
}

func TestChatPipedInputContinuesDialog(t *testing.T) {
	url := newTestServer(t)
	dialogID, _ := seedDialog(t, url)

	_, _, err := run(t, url, "And tirzepatide?\n", "chat", "--dialog", strconv.FormatInt(dialogID, 10))
	require.NoError(t, err)

	d, err := client.New(url, testUser).GetDialog(context.Background(), dialogID)
	require.NoError(t, err)
	require.Len(t, d.ChatHistory, 4)
	assert.Equal(t, "And tirzepatide?", d.ChatHistory[2].Content)
}

func TestChatUnknownDialog(t *testing.T) {
	url := newTestServer(t)
	_, _, err := run(t, url, "", "chat", "-d", "404", "hello")
	require.Error(t, err)
	assert.True(t, errors.Is(err, client.ErrNotFound))
}

func TestDialogsListAndShow(t *testing.T) {
	url := newTestServer(t)

	out, _, err := run(t, url, "", "dialogs")
	require.NoError(t, err)
	assert.Contains(t, out, "No dialogs yet")

	dialogID, _ := seedDialog(t, url)

	out, _, err = run(t, url, "", "dialogs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "GLP-1 Weight Loss")

	out, _, err = run(t, url, "", "dialogs", "show", strconv.FormatInt(dialogID, 10))
	require.NoError(t, err)
	assert.Contains(t, out, "Does semaglutide help with weight loss?")
	assert.Contains(t, out, "Semaglutide reduced body weight")

	_, _, err = run(t, url, "", "dialogs", "show", "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid dialog id")
}

func TestDialogsDelete(t *testing.T) {
	url := newTestServer(t)
	dialogID, _ := seedDialog(t, url)
	id := strconv.FormatInt(dialogID, 10)

	out, _, err := run(t, url, "n\n", "dialogs", "delete", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Cancelled.")

	out, _, err = run(t, url, "y\n", "dialogs", "delete", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted: GLP-1 Weight Loss")

	_, _, err = run(t, url, "", "dialogs", "delete", id, "--force")
	assert.ErrorIs(t, err, client.ErrNotFound)
}

func TestFindingsCuration(t *testing.T) {
	url := newTestServer(t)
	dialogID, findingID := seedDialog(t, url)
	did, fid := strconv.FormatInt(dialogID, 10), strconv.FormatInt(findingID, 10)

	out, _, err := run(t, url, "", "findings", did)
	require.NoError(t, err)
	assert.Contains(t, out, "GLP-1 agonists and weight loss")
	assert.Contains(t, out, "https://nejm.org/step1")

	out, _, err = run(t, url, "", "findings", did, "--excluded")
	require.NoError(t, err)
	assert.Contains(t, out, "No findings.")

	out, _, err = run(t, url, "", "findings", "mark", fid)
	require.NoError(t, err)
	assert.Contains(t, out, "as not relevant")

	out, _, err = run(t, url, "", "findings", did, "--excluded")
	require.NoError(t, err)
	assert.Contains(t, out, "GLP-1 agonists and weight loss")

	out, _, err = run(t, url, "", "findings", "unmark", fid)
	require.NoError(t, err)
	assert.Contains(t, out, "as relevant")

	out, _, err = run(t, url, "", "findings", "delete", fid)
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted finding #"+fid)
}

func TestMe(t *testing.T) {
	url := newTestServer(t)

	out, _, err := run(t, url, "", "me")
	require.NoError(t, err)
	assert.Contains(t, out, "ada <ada@example.com>")

	_, _, err = run(t, url, "", "me", "set")
	require.Error(t, err)

	out, _, err = run(t, url, "", "me", "set", "--name", "Ada Lovelace", "--trust", "NEJM.org,thelancet.com")
	require.NoError(t, err)
	assert.Contains(t, out, "Ada Lovelace <ada@example.com>")
	assert.Contains(t, out, "nejm.org, thelancet.com")
}

func TestExport(t *testing.T) {
	url := newTestServer(t)
	dialogID, _ := seedDialog(t, url)
	dir := t.TempDir()

	out, _, err := run(t, url, "", "export", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Exported 1 dialogs")

	md, err := os.ReadFile(filepath.Join(dir, "dialog-"+strconv.FormatInt(dialogID, 10)+"-glp-1-weight-loss.md"))
	require.NoError(t, err)
	text := string(md)
	assert.True(t, strings.HasPrefix(text, "---\n"))
	assert.Contains(t, text, "title: GLP-1 Weight Loss")
	assert.Contains(t, text, "user: ada@example.com")
	assert.Contains(t, text, "# GLP-1 Weight Loss")
	assert.Contains(t, text, "## Assistant")

	_, _, err = run(t, url, "", "export", dir, "--format", "json")
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dir, "dialog-"+strconv.FormatInt(dialogID, 10)+"-glp-1-weight-loss.json"))
	require.NoError(t, err)
	var exp DialogExport
	require.NoError(t, json.Unmarshal(data, &exp))
	assert.Equal(t, dialogID, exp.ID)
	assert.Len(t, exp.Findings, 1)
	assert.Len(t, exp.Transcript, 2)

	_, _, err = run(t, url, "", "export", dir, "--format", "pdf")
	require.Error(t, err)
}

func TestExportName(t *testing.T) {
	assert.Equal(t, "dialog-3-statins--myopathy", exportName(&models.Dialog{ID: 3, Title: "Statins & Myopathy"}))
	assert.Equal(t, "dialog-4", exportName(&models.Dialog{ID: 4, Title: "???"}))
}

func TestStats(t *testing.T) {
	url := newTestServer(t)
	seedDialog(t, url)

	out, _, err := run(t, url, "", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Turns: 1 succeeded, 0 failed")
	assert.Contains(t, out, "Agent:")
}

func TestTurnModel(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := newTurnModel(start)

	view := m.renderContent(start.Add(3 * time.Second))
	assert.Contains(t, view, "Sending...")
	assert.Contains(t, view, "3s")

	next, cmd := m.Update(statusMsg("Searching OpenAlex..."))
	assert.Nil(t, cmd)
	m = next.(turnModel)
	assert.Contains(t, m.renderContent(start), "Searching OpenAlex...")

	next, cmd = m.Update(replyMsg{event: &client.StreamEvent{Reply: "done", Succeeded: true}})
	require.NotNil(t, cmd)
	m = next.(turnModel)
	assert.True(t, m.done)
	assert.Contains(t, m.renderContent(start.Add(2*time.Second)), "Answered in 2s")

	failed, _ := newTurnModel(start).Update(replyMsg{event: &client.StreamEvent{Reply: "sorry"}})
	assert.Contains(t, failed.(turnModel).renderContent(start), "Research failed")

	errored, _ := newTurnModel(start).Update(replyMsg{err: errors.New("stream error: boom")})
	assert.Contains(t, errored.(turnModel).renderContent(start), "boom")
}

func TestParseID(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"12", 12, false},
		{"#7", 7, false},
		{"0", 0, true},
		{"-3", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := parseID("dialog", tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

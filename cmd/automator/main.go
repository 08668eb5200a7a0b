package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	html2markdown "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"
)

// result is the single JSON line emitted on stdout. The orchestrator treats
// success=false as a logical failure and anything unparsable as a process
// failure, so this program always prints exactly one result and exits zero.
type result struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	URL       string `json:"url,omitempty"`
	Title     string `json:"title,omitempty"`
	HTML      string `json:"html,omitempty"`
	Markdown  string `json:"markdown,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Query     string `json:"query,omitempty"`
}

// Common search inputs probed in order on the restored page.
var searchSelectors = []string{
	"input[type='search']",
	"input[name='q']",
	"input[name='query']",
	"input[name='search']",
	"input.search",
	"#search-input",
	".search-input",
}

var debugMode bool

func main() {
	action := flag.String("action", "", "navigate or search")
	url := flag.String("url", "", "target url for navigate")
	session := flag.String("session", "", "session id for search")
	query := flag.String("query", "", "search query")
	timeout := flag.Int("timeout", 30000, "step timeout in milliseconds")
	waitUntil := flag.String("wait-until", "load", "load, domcontentloaded or networkidle")
	headless := flag.Bool("headless", true, "run the browser headless")
	flag.BoolVar(&debugMode, "debug", false, "log progress to stderr")
	flag.Parse()

	res := run(*action, *url, *session, *query, *timeout, *waitUntil, *headless)
	out, err := json.Marshal(res)
	if err != nil {
		out, _ = json.Marshal(result{Error: err.Error()})
	}
	fmt.Println(string(out))
}

func run(action, url, session, query string, timeoutMs int, waitUntil string, headless bool) result {
	pw, err := playwright.Run()
	if err != nil {
		return fail("start playwright: %v", err)
	}
	defer pw.Stop()

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(headless),
		Args: []string{
			"--no-sandbox",
			"--disable-dev-shm-usage",
		},
	})
	if err != nil {
		return fail("launch browser: %v", err)
	}
	defer browser.Close()

	switch action {
	case "navigate":
		return navigate(browser, url, timeoutMs, waitUntil)
	case "search":
		return search(browser, session, query, timeoutMs)
	}
	return fail("unknown action %q", action)
}

func navigate(browser playwright.Browser, url string, timeoutMs int, waitUntil string) result {
	if url == "" {
		return fail("navigate requires a url")
	}
	ctx, err := browser.NewContext()
	if err != nil {
		return fail("new context: %v", err)
	}
	page, err := ctx.NewPage()
	if err != nil {
		return fail("new page: %v", err)
	}

	debugf("navigating to %s", url)
	if _, err := page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: waitState(waitUntil),
		Timeout:   playwright.Float(float64(timeoutMs)),
	}); err != nil {
		return fail("goto %s: %v", url, err)
	}

	html, err := page.Content()
	if err != nil {
		return fail("read page content: %v", err)
	}
	title, _ := page.Title()

	id := uuid.NewString()
	if err := saveSession(ctx, id, page.URL()); err != nil {
		return fail("save session: %v", err)
	}
	debugf("saved session %s", id)

	return result{
		Success:   true,
		URL:       page.URL(),
		Title:     title,
		HTML:      html,
		Markdown:  renderMarkdown(html),
		SessionID: id,
	}
}

func search(browser playwright.Browser, session, query string, timeoutMs int) result {
	if session == "" {
		return fail("search requires a session")
	}
	meta, err := readMeta(session)
	if err != nil {
		return fail("unknown session %s: %v", session, err)
	}

	ctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		StorageStatePath: playwright.String(statePath(session)),
	})
	if err != nil {
		return fail("restore session %s: %v", session, err)
	}
	page, err := ctx.NewPage()
	if err != nil {
		return fail("new page: %v", err)
	}

	debugf("restoring %s for session %s", meta.URL, session)
	if _, err := page.Goto(meta.URL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   playwright.Float(float64(timeoutMs)),
	}); err != nil {
		return fail("goto %s: %v", meta.URL, err)
	}

	box := findSearchInput(page)
	if box == nil {
		return fail("no search input found on %s", meta.URL)
	}

	if err := box.Click(); err != nil {
		return fail("focus search input: %v", err)
	}
	if err := box.Fill(""); err != nil {
		return fail("clear search input: %v", err)
	}
	if err := box.Type(query, playwright.ElementHandleTypeOptions{Delay: playwright.Float(80)}); err != nil {
		return fail("type query: %v", err)
	}
	if err := box.Press("Enter"); err != nil {
		return fail("submit query: %v", err)
	}

	// Busy pages may never settle; take whatever rendered.
	if err := page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: playwright.Float(float64(timeoutMs)),
	}); err != nil {
		debugf("networkidle not reached: %v", err)
	}

	html, err := page.Content()
	if err != nil {
		return fail("read page content: %v", err)
	}
	title, _ := page.Title()

	if err := saveSession(ctx, session, page.URL()); err != nil {
		debugf("re-save session %s: %v", session, err)
	}

	return result{
		Success:   true,
		URL:       page.URL(),
		Title:     title,
		HTML:      html,
		Markdown:  renderMarkdown(html),
		SessionID: session,
		Query:     query,
	}
}

func findSearchInput(page playwright.Page) playwright.ElementHandle {
	for _, sel := range searchSelectors {
		el, err := page.QuerySelector(sel)
		if err == nil && el != nil {
			debugf("search input matched %q", sel)
			return el
		}
	}
	return nil
}

// Session storage: playwright storage state plus a sidecar with the last
// URL, both keyed by session id.

type sessionMeta struct {
	URL string `json:"url"`
}

func sessionDir() string {
	if d := os.Getenv("SESSION_DIR"); d != "" {
		return d
	}
	return filepath.Join(os.TempDir(), "webagent-sessions")
}

func statePath(id string) string { return filepath.Join(sessionDir(), id+".json") }
func metaPath(id string) string  { return filepath.Join(sessionDir(), id+".meta.json") }

func saveSession(ctx playwright.BrowserContext, id, url string) error {
	if err := os.MkdirAll(sessionDir(), 0o755); err != nil {
		return err
	}
	if _, err := ctx.StorageState(statePath(id)); err != nil {
		return err
	}
	b, err := json.Marshal(sessionMeta{URL: url})
	if err != nil {
		return err
	}
	return os.WriteFile(metaPath(id), b, 0o644)
}

func readMeta(id string) (*sessionMeta, error) {
	b, err := os.ReadFile(metaPath(id))
	if err != nil {
		return nil, err
	}
	var meta sessionMeta
	if err := json.Unmarshal(b, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func renderMarkdown(html string) string {
	conv := html2markdown.NewConverter("", true, nil)
	md, err := conv.ConvertString(html)
	if err != nil {
		return ""
	}
	return md
}

func waitState(s string) *playwright.WaitUntilState {
	switch s {
	case "domcontentloaded":
		return playwright.WaitUntilStateDomcontentloaded
	case "networkidle":
		return playwright.WaitUntilStateNetworkidle
	case "commit":
		return playwright.WaitUntilStateCommit
	}
	return playwright.WaitUntilStateLoad
}

func fail(format string, v ...interface{}) result {
	return result{Error: fmt.Sprintf(format, v...)}
}

func debugf(format string, v ...interface{}) {
	if debugMode {
		fmt.Fprintf(os.Stderr, "[automator] "+format+"\n", v...)
	}
}

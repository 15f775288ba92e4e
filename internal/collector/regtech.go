package collector

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"shrike/internal/database"
	"shrike/internal/domain"
	"shrike/internal/support"

	"github.com/charmbracelet/log"
	"golang.org/x/net/html"
)

const (
	regtechLoginPath    = "/login/loginProcess"
	regtechExportPath   = "/board/boardList/excelDownload"
	regtechBoardPath    = "/board/boardList"
	regtechSessionHours = 1
	regtechMaxPages     = 50
	regtechPageSize     = 100
)

// RegtechCollector talks to the REGTECH advisory board: cookie-based form
// login, a bulk CSV export as the primary mode, and the paginated HTML board
// listing as the fallback.
type RegtechCollector struct {
	recorder AttemptRecorder
	baseURL  string
	username string
	password string
}

func NewRegtech(recorder AttemptRecorder) *RegtechCollector {
	return &RegtechCollector{
		recorder: recorder,
		baseURL:  strings.TrimRight(support.GetEnv("REGTECH_BASE_URL", "https://regtech.fsec.or.kr"), "/"),
		username: support.GetEnv("REGTECH_ID", ""),
		password: support.GetEnv("REGTECH_PASSWORD", ""),
	}
}

func (r *RegtechCollector) Source() domain.Source {
	return domain.SourceREGTECH
}

func (r *RegtechCollector) Authenticate(ctx context.Context) (*Session, error) {
	if r.username == "" || r.password == "" {
		err := errors.New("missing REGTECH credentials")
		r.recorder.RecordAttempt(ctx, r.Source(), false, err.Error())
		return nil, &AuthError{Source: r.Source(), Reason: err.Error(), Err: err}
	}

	var session *Session
	err := withBackoff(ctx, maxAuthRetries, backoffBase, backoffCap, func(attempt int) error {
		s, loginErr := r.login(ctx)
		r.recorder.RecordAttempt(ctx, r.Source(), loginErr == nil, reasonOf(loginErr))
		if loginErr != nil {
			log.Warn("REGTECH login failed", "attempt", attempt, "error", loginErr)
			return loginErr
		}
		session = s
		return nil
	})
	if err != nil {
		return nil, &AuthError{Source: r.Source(), Reason: reasonOf(err), Err: err}
	}
	return session, nil
}

func (r *RegtechCollector) login(ctx context.Context) (*Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("build cookie jar: %w", err)
	}
	client := newHTTPClient(jar)

	form := url.Values{}
	form.Set("loginID", r.username)
	form.Set("loginPW", r.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+regtechLoginPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute login request: %w", err)
	}
	body, err := readLimited(resp)
	if err != nil {
		return nil, err
	}

	// The portal answers 200 with the login form again on bad credentials.
	if bytes.Contains(body, []byte("loginForm")) || bytes.Contains(body, []byte("login_fail")) {
		return nil, errors.New("credentials rejected")
	}

	base, err := url.Parse(r.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if len(jar.Cookies(base)) == 0 {
		return nil, errors.New("no session cookie issued")
	}

	return &Session{
		Client:    client,
		ExpiresAt: time.Now().Add(regtechSessionHours * time.Hour),
	}, nil
}

func (r *RegtechCollector) Fetch(ctx context.Context, session *Session, window DateRange) (*RawPayload, error) {
	if session.Expired(time.Now()) {
		return nil, &FetchError{Source: r.Source(), Mode: ModeBulk, Err: errors.New("session expired")}
	}

	payload, bulkErr := r.fetchExport(ctx, session, window)
	if bulkErr == nil && len(bytes.TrimSpace(payload.Body)) > 0 {
		return payload, nil
	}
	if bulkErr != nil {
		log.Warn("REGTECH bulk export failed, falling back to board listing", "error", bulkErr)
	} else {
		log.Warn("REGTECH bulk export returned no rows, falling back to board listing")
	}

	payload, pageErr := r.fetchBoardPages(ctx, session, window)
	if pageErr != nil {
		return nil, &FetchError{Source: r.Source(), Mode: ModePaginated, Err: errors.Join(bulkErr, pageErr)}
	}
	return payload, nil
}

func (r *RegtechCollector) fetchExport(ctx context.Context, session *Session, window DateRange) (*RawPayload, error) {
	query := url.Values{}
	query.Set("startDate", window.From.Format("2006-01-02"))
	query.Set("endDate", window.To.Format("2006-01-02"))
	query.Set("fileType", "csv")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+regtechExportPath+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build export request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := session.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute export request: %w", err)
	}
	body, err := readLimited(resp)
	if err != nil {
		return nil, err
	}

	// A session that silently expired serves the login page instead of CSV.
	if bytes.Contains(body, []byte("<html")) || bytes.Contains(body, []byte("loginForm")) {
		return nil, errors.New("export returned HTML instead of CSV")
	}

	return &RawPayload{Format: FormatCSV, Mode: ModeBulk, Body: body, Pages: 1}, nil
}

func (r *RegtechCollector) fetchBoardPages(ctx context.Context, session *Session, window DateRange) (*RawPayload, error) {
	var combined bytes.Buffer
	pages := 0

	for page := 1; page <= regtechMaxPages; page++ {
		// Cancellation checkpoint between pages.
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		query := url.Values{}
		query.Set("page", fmt.Sprint(page))
		query.Set("size", fmt.Sprint(regtechPageSize))
		query.Set("startDate", window.From.Format("2006-01-02"))
		query.Set("endDate", window.To.Format("2006-01-02"))

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+regtechBoardPath+"?"+query.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("build board request: %w", err)
		}
		req.Header.Set("User-Agent", userAgent)

		resp, err := session.Client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("execute board request (page %d): %w", page, err)
		}
		body, err := readLimited(resp)
		if err != nil {
			return nil, err
		}

		rows := countHTMLDataRows(body)
		if rows == 0 {
			break
		}

		combined.Write(body)
		combined.WriteByte('\n')
		pages++
	}

	if pages == 0 {
		return nil, errors.New("board listing returned no rows")
	}
	return &RawPayload{Format: FormatHTML, Mode: ModePaginated, Body: combined.Bytes(), Pages: pages}, nil
}

func (r *RegtechCollector) Parse(payload *RawPayload) ([]domain.NormalizedRecord, ParseStats, error) {
	if payload == nil || len(payload.Body) == 0 {
		return nil, ParseStats{}, &ParseError{Source: r.Source(), Err: errors.New("empty payload")}
	}

	switch payload.Format {
	case FormatCSV:
		return r.parseCSV(payload.Body)
	case FormatHTML:
		return r.parseBoardHTML(payload.Body)
	default:
		return nil, ParseStats{}, &ParseError{Source: r.Source(), Err: fmt.Errorf("unsupported format %q", payload.Format)}
	}
}

// parseCSV expects rows of ip, detection date, threat type, country code.
// Unparseable rows are counted, never fatal.
func (r *RegtechCollector) parseCSV(body []byte) ([]domain.NormalizedRecord, ParseStats, error) {
	reader := csv.NewReader(bytes.NewReader(body))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, ParseStats{}, &ParseError{Source: r.Source(), Err: fmt.Errorf("read csv: %w", err)}
	}

	var (
		records []domain.NormalizedRecord
		stats   ParseStats
	)

	for i, row := range rows {
		if i == 0 && looksLikeHeader(row) {
			continue
		}
		record, ok := r.rowToRecord(row)
		if !ok {
			stats.Errors++
			continue
		}
		records = append(records, record)
		stats.Parsed++
	}

	return records, stats, nil
}

func looksLikeHeader(row []string) bool {
	if len(row) == 0 {
		return false
	}
	first := strings.ToLower(strings.TrimSpace(row[0]))
	return first == "ip" || first == "no" || strings.Contains(first, "address")
}

func (r *RegtechCollector) rowToRecord(row []string) (domain.NormalizedRecord, bool) {
	if len(row) < 2 {
		return domain.NormalizedRecord{}, false
	}

	ip := database.NormalizeIP(strings.TrimSpace(row[0]))
	if ip == "" {
		return domain.NormalizedRecord{}, false
	}

	detected, err := parseSourceDate(row[1])
	if err != nil {
		return domain.NormalizedRecord{}, false
	}

	record := domain.NormalizedRecord{
		IP:            ip,
		DetectionDate: detected,
		Confidence:    80,
	}
	if len(row) > 2 {
		record.ThreatType = strings.TrimSpace(row[2])
	}
	if len(row) > 3 {
		record.CountryCode = strings.ToUpper(strings.TrimSpace(row[3]))
	}
	return record, true
}

// parseBoardHTML walks the fallback listing tables: each data row carries
// ip, detection date, threat type and country in its first cells.
func (r *RegtechCollector) parseBoardHTML(body []byte) ([]domain.NormalizedRecord, ParseStats, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, ParseStats{}, &ParseError{Source: r.Source(), Err: fmt.Errorf("parse html: %w", err)}
	}

	var (
		records []domain.NormalizedRecord
		stats   ParseStats
	)

	for _, cells := range collectTableRows(doc) {
		if len(cells) == 0 || looksLikeHeader(cells) {
			continue
		}
		record, ok := r.rowToRecord(cells)
		if !ok {
			stats.Errors++
			continue
		}
		records = append(records, record)
		stats.Parsed++
	}

	return records, stats, nil
}

func countHTMLDataRows(body []byte) int {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return 0
	}
	count := 0
	for _, cells := range collectTableRows(doc) {
		if len(cells) > 0 && !looksLikeHeader(cells) {
			count++
		}
	}
	return count
}

func collectTableRows(doc *html.Node) [][]string {
	var rows [][]string

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			var cells []string
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
					cells = append(cells, strings.TrimSpace(textContent(c)))
				}
			}
			if len(cells) > 0 {
				rows = append(rows, cells)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return rows
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(textContent(c))
	}
	return sb.String()
}

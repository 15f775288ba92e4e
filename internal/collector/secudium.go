package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"shrike/internal/database"
	"shrike/internal/domain"
	"shrike/internal/support"

	"github.com/charmbracelet/log"
	"github.com/golang-jwt/jwt/v5"
)

const (
	secudiumLoginPath     = "/api/v1/auth/login"
	secudiumListPath      = "/api/v1/blacklist/ips"
	secudiumExportPath    = "/api/v1/blacklist/export"
	secudiumPageSize      = 500
	secudiumMaxPages      = 200
	secudiumTokenFallback = 30 * time.Minute
)

// SecudiumCollector talks to the SECUDIUM REST API: bearer-token login, a
// paginated JSON listing as the primary mode, and the bulk export endpoint
// as the fallback.
type SecudiumCollector struct {
	recorder AttemptRecorder
	baseURL  string
	username string
	password string
}

func NewSecudium(recorder AttemptRecorder) *SecudiumCollector {
	return &SecudiumCollector{
		recorder: recorder,
		baseURL:  strings.TrimRight(support.GetEnv("SECUDIUM_BASE_URL", "https://isap.secudium.co.kr"), "/"),
		username: support.GetEnv("SECUDIUM_ID", ""),
		password: support.GetEnv("SECUDIUM_PASSWORD", ""),
	}
}

func (s *SecudiumCollector) Source() domain.Source {
	return domain.SourceSECUDIUM
}

func (s *SecudiumCollector) Authenticate(ctx context.Context) (*Session, error) {
	if s.username == "" || s.password == "" {
		err := errors.New("missing SECUDIUM credentials")
		s.recorder.RecordAttempt(ctx, s.Source(), false, err.Error())
		return nil, &AuthError{Source: s.Source(), Reason: err.Error(), Err: err}
	}

	var session *Session
	err := withBackoff(ctx, maxAuthRetries, backoffBase, backoffCap, func(attempt int) error {
		sess, loginErr := s.login(ctx)
		s.recorder.RecordAttempt(ctx, s.Source(), loginErr == nil, reasonOf(loginErr))
		if loginErr != nil {
			log.Warn("SECUDIUM login failed", "attempt", attempt, "error", loginErr)
			return loginErr
		}
		session = sess
		return nil
	})
	if err != nil {
		return nil, &AuthError{Source: s.Source(), Reason: reasonOf(err), Err: err}
	}
	return session, nil
}

func (s *SecudiumCollector) login(ctx context.Context) (*Session, error) {
	payload, err := json.Marshal(map[string]string{
		"username": s.username,
		"password": s.password,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal login payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+secudiumLoginPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	client := newHTTPClient(nil)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute login request: %w", err)
	}
	body, err := readLimited(resp)
	if err != nil {
		return nil, err
	}

	var loginResp struct {
		AccessToken string `json:"access_token"`
		Token       string `json:"token"`
	}
	if err := json.Unmarshal(body, &loginResp); err != nil {
		return nil, fmt.Errorf("decode login response: %w", err)
	}

	token := loginResp.AccessToken
	if token == "" {
		token = loginResp.Token
	}
	if token == "" {
		return nil, errors.New("login response carried no token")
	}

	return &Session{
		Client:    client,
		Token:     token,
		ExpiresAt: tokenExpiry(token),
	}, nil
}

// tokenExpiry reads the exp claim without verifying the signature; the token
// is the source's to validate, we only need to know when to stop using it.
func tokenExpiry(token string) time.Time {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Now().Add(secudiumTokenFallback)
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Now().Add(secudiumTokenFallback)
	}
	return exp.Time
}

func (s *SecudiumCollector) Fetch(ctx context.Context, session *Session, window DateRange) (*RawPayload, error) {
	payload, pageErr := s.fetchPages(ctx, session, window)
	if pageErr == nil {
		return payload, nil
	}
	log.Warn("SECUDIUM paginated listing failed, falling back to bulk export", "error", pageErr)

	payload, bulkErr := s.fetchExport(ctx, session, window)
	if bulkErr != nil {
		return nil, &FetchError{Source: s.Source(), Mode: ModeBulk, Err: errors.Join(pageErr, bulkErr)}
	}
	return payload, nil
}

type secudiumRow struct {
	IP         string `json:"ip"`
	DetectedAt string `json:"detected_at"`
	Category   string `json:"category"`
	Country    string `json:"country"`
	Score      uint8  `json:"score"`
}

func (s *SecudiumCollector) fetchPages(ctx context.Context, session *Session, window DateRange) (*RawPayload, error) {
	var all []secudiumRow
	pages := 0

	for page := 1; page <= secudiumMaxPages; page++ {
		// Cancellation checkpoint between pages.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if session.Expired(time.Now()) {
			return nil, errors.New("bearer token expired mid-fetch")
		}

		query := url.Values{}
		query.Set("page", fmt.Sprint(page))
		query.Set("size", fmt.Sprint(secudiumPageSize))
		query.Set("from", window.From.Format("2006-01-02"))
		query.Set("to", window.To.Format("2006-01-02"))

		body, err := s.get(ctx, session, secudiumListPath+"?"+query.Encode())
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}

		var listing struct {
			Items      []secudiumRow `json:"items"`
			TotalPages int           `json:"total_pages"`
		}
		if err := json.Unmarshal(body, &listing); err != nil {
			return nil, fmt.Errorf("decode page %d: %w", page, err)
		}

		if len(listing.Items) == 0 {
			break
		}
		all = append(all, listing.Items...)
		pages++

		if listing.TotalPages > 0 && page >= listing.TotalPages {
			break
		}
	}

	if len(all) == 0 {
		return nil, errors.New("listing returned no rows")
	}

	body, err := json.Marshal(all)
	if err != nil {
		return nil, fmt.Errorf("assemble payload: %w", err)
	}
	return &RawPayload{Format: FormatJSON, Mode: ModePaginated, Body: body, Pages: pages}, nil
}

func (s *SecudiumCollector) fetchExport(ctx context.Context, session *Session, window DateRange) (*RawPayload, error) {
	query := url.Values{}
	query.Set("from", window.From.Format("2006-01-02"))
	query.Set("to", window.To.Format("2006-01-02"))

	body, err := s.get(ctx, session, secudiumExportPath+"?"+query.Encode())
	if err != nil {
		return nil, err
	}
	return &RawPayload{Format: FormatJSON, Mode: ModeBulk, Body: body, Pages: 1}, nil
}

func (s *SecudiumCollector) get(ctx context.Context, session *Session, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+session.Token)
	req.Header.Set("User-Agent", userAgent)

	resp, err := session.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	return readLimited(resp)
}

func (s *SecudiumCollector) Parse(payload *RawPayload) ([]domain.NormalizedRecord, ParseStats, error) {
	if payload == nil || len(payload.Body) == 0 {
		return nil, ParseStats{}, &ParseError{Source: s.Source(), Err: errors.New("empty payload")}
	}
	if payload.Format != FormatJSON {
		return nil, ParseStats{}, &ParseError{Source: s.Source(), Err: fmt.Errorf("unsupported format %q", payload.Format)}
	}

	var rows []secudiumRow
	if err := json.Unmarshal(payload.Body, &rows); err != nil {
		return nil, ParseStats{}, &ParseError{Source: s.Source(), Err: fmt.Errorf("decode payload: %w", err)}
	}

	var (
		records []domain.NormalizedRecord
		stats   ParseStats
	)

	for _, row := range rows {
		ip := database.NormalizeIP(strings.TrimSpace(row.IP))
		if ip == "" {
			stats.Errors++
			continue
		}
		detected, err := parseSourceDate(row.DetectedAt)
		if err != nil {
			stats.Errors++
			continue
		}

		confidence := row.Score
		if confidence == 0 || confidence > 100 {
			confidence = 70
		}

		records = append(records, domain.NormalizedRecord{
			IP:            ip,
			DetectionDate: detected,
			ThreatType:    strings.TrimSpace(row.Category),
			CountryCode:   strings.ToUpper(strings.TrimSpace(row.Country)),
			Confidence:    confidence,
		})
		stats.Parsed++
	}

	return records, stats, nil
}

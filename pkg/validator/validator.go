// Package validator runs the challenge validation flow: call the challenge's
// validation endpoint, classify the response, and on success patch the mapped status
// component and record the challenge as solved.
package validator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"aquarium-dashboard/pkg/models"
	"aquarium-dashboard/pkg/status"

	"github.com/rs/zerolog"
)

// User-facing messages for failed validations.
const (
	MsgValidationFailed = "Validation failed. Please try again."
	MsgUnexpectedFormat = "Unexpected response format from validation endpoint"
)

// maxBodyBytes caps how much of a validation response is read.
const maxBodyBytes = 1 << 20

// SolvedSet records solved challenge ids. AddSolved must be idempotent.
type SolvedSet interface {
	AddSolved(ctx context.Context, id int) bool
}

// UpdateFunc receives the status patch produced by a successful validation.
type UpdateFunc func(status.Patch)

// Options configures endpoint resolution and status overrides.
type Options struct {
	AppOrigin  string // Prepended to validation URLs that start with "/"
	APIBaseURL string // Prepended to other relative URLs and to the fallback path

	// Overrides pins the status written for a challenge on success, by challenge id.
	Overrides map[int]string

	HTTPClient *http.Client
	Timeout    time.Duration
}

// Validator performs validation calls. It is safe for concurrent use.
type Validator struct {
	appOrigin  string
	apiBase    string
	overrides  map[int]string
	httpClient *http.Client
	solved     SolvedSet
	log        zerolog.Logger
}

// New creates a validator that records successes in solved.
func New(opts Options, solved SolvedSet, log zerolog.Logger) *Validator {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}

	overrides := make(map[int]string, len(opts.Overrides))
	for id, v := range opts.Overrides {
		overrides[id] = v
	}

	return &Validator{
		appOrigin:  strings.TrimRight(opts.AppOrigin, "/"),
		apiBase:    strings.TrimRight(opts.APIBaseURL, "/"),
		overrides:  overrides,
		httpClient: hc,
		solved:     solved,
		log:        log,
	}
}

// ResolveEndpoint returns the HTTP method and absolute URL used to validate ch.
func (v *Validator) ResolveEndpoint(ch models.Challenge) (method, url string) {
	method = http.MethodGet
	ep := ch.ValidationEndpoint
	if ep != nil && ep.Method != "" {
		method = strings.ToUpper(ep.Method)
	}

	if ep == nil || ep.URL == "" {
		return method, fmt.Sprintf("%s/challenges/%d/validate", v.apiBase, ch.ID)
	}

	switch {
	case strings.HasPrefix(ep.URL, "/"):
		return method, v.appOrigin + ep.URL
	case strings.Contains(ep.URL, "://"):
		return method, ep.URL
	default:
		return method, v.apiBase + "/" + ep.URL
	}
}

// Validate performs one validation call for ch. It never returns an error: every
// failure is folded into an invalid result with a displayable message. On success,
// update receives the status patch and the challenge id is added to the solved-set.
func (v *Validator) Validate(ctx context.Context, ch models.Challenge, update UpdateFunc) models.ValidationResult {
	log := v.log.With().Int("challenge_id", ch.ID).Logger()
	method, url := v.ResolveEndpoint(ch)

	body, err := v.fetch(ctx, method, url)
	if err != nil {
		log.Error().Err(err).Str("method", method).Str("url", url).Msg("Validation request failed")
		return models.ValidationResult{IsValid: false, Message: MsgValidationFailed}
	}

	resp, err := DecodeResponse(body)
	if err != nil {
		log.Error().Err(err).Str("url", url).Msg("Validation response is not JSON")
		return models.ValidationResult{IsValid: false, Message: MsgValidationFailed}
	}

	if resp.Shape == ShapeUnrecognized {
		log.Warn().Str("url", url).Msg("Unrecognized validation response shape")
		return models.ValidationResult{IsValid: false, Message: MsgUnexpectedFormat}
	}

	result := models.ValidationResult{IsValid: resp.Valid(), Message: resp.Message()}
	if !result.IsValid {
		log.Info().Str("shape", resp.Shape.String()).Msg("Challenge not solved yet")
		return result
	}

	patch := v.patchFor(ch.ID, resp, log)
	if len(patch) > 0 {
		result.SystemStatus = patch
		if update != nil {
			update(patch)
		}
	}

	if v.solved != nil {
		if v.solved.AddSolved(ctx, ch.ID) {
			log.Info().Msg("Challenge solved")
		}
	}

	return result
}

// ErrUnrecognized is returned by Probe when the endpoint answers with JSON of an
// unknown shape.
var ErrUnrecognized = errors.New("unrecognized validation response")

// Probe reports the health of the component behind ch without recording anything.
// An unsolved challenge yields the component's pessimistic default; transport and
// decoding failures are returned as errors.
func (v *Validator) Probe(ctx context.Context, ch models.Challenge) (string, error) {
	component := status.MapChallengeIDToComponent(ch.ID)
	if component == models.ComponentNone {
		return "", fmt.Errorf("challenge %d has no status component", ch.ID)
	}

	method, url := v.ResolveEndpoint(ch)
	body, err := v.fetch(ctx, method, url)
	if err != nil {
		return "", err
	}
	resp, err := DecodeResponse(body)
	if err != nil {
		return "", err
	}
	if resp.Shape == ShapeUnrecognized {
		return "", ErrUnrecognized
	}
	if !resp.Valid() {
		return status.PessimisticDefault(component), nil
	}

	log := v.log.With().Int("challenge_id", ch.ID).Logger()
	if value, ok := v.patchFor(ch.ID, resp, log)[component]; ok {
		return value, nil
	}
	return models.StatusNormal, nil
}

func (v *Validator) fetch(ctx context.Context, method, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return body, nil
}

// patchFor builds the status patch for a successful validation.
func (v *Validator) patchFor(id int, resp Response, log zerolog.Logger) status.Patch {
	if resp.Shape == ShapeLegacy && len(resp.Legacy.SystemStatus) > 0 {
		patch := status.Patch{}
		for name, raw := range resp.Legacy.SystemStatus {
			value, ok := raw.(string)
			c := status.ComponentByName(name)
			if !ok || c == models.ComponentNone {
				log.Debug().Str("key", name).Msg("Ignoring legacy status key")
				continue
			}
			patch[c] = value
		}
		if len(patch) > 0 {
			return patch
		}
	}

	component := status.MapChallengeIDToComponent(id)
	if component == models.ComponentNone {
		log.Warn().Msg("Challenge has no mapped status component")
		return nil
	}

	value := models.StatusNormal
	if resp.Shape == ShapeModern && resp.Modern.SystemComponent != nil {
		sc := resp.Modern.SystemComponent
		if named := status.ComponentByName(sc.Name); named != component {
			log.Warn().
				Str("reported_component", sc.Name).
				Str("mapped_component", string(component)).
				Msg("Validation response names a different component, using the mapped one")
		}
		if reported := strings.ToLower(strings.TrimSpace(sc.Status)); status.IsKnown(reported) {
			value = reported
		}
	}

	if override, ok := v.overrides[id]; ok && override != "" {
		value = override
	}

	return status.Patch{component: value}
}

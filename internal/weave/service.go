package weave

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/StreetsDigital/aip-coordinator/internal/auction"
	"github.com/StreetsDigital/aip-coordinator/pkg/logger"
)

// RetryAfterMS is the retry hint returned while an auction is in flight
const RetryAfterMS = 150

// ErrMissingField reports a missing coordinator field (mapped to 400)
var ErrMissingField = errors.New("missing required field")

// Runner runs one auction for a constructed context request
type Runner interface {
	Run(ctx context.Context, req *auction.ContextRequest) (*auction.Result, error)
}

// Response is what a recommendation call returns to the platform
type Response struct {
	Status           Status                 `json:"status"`
	RetryAfterMS     int                    `json:"retry_after_ms,omitempty"`
	Message          string                 `json:"message,omitempty"`
	WeaveContent     string                 `json:"weave_content,omitempty"`
	ServeToken       string                 `json:"serve_token,omitempty"`
	CreativeMetadata map[string]interface{} `json:"creative_metadata,omitempty"`
	Error            string                 `json:"error,omitempty"`
}

// Service is the cache-first recommendation coordinator. Background auctions
// are owned by the service (the process), not by the triggering request, so
// a canceled caller never kills an auction that future retrieves benefit
// from.
type Service struct {
	store  Store
	runner Runner
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	auctionTimeout time.Duration
}

// NewService creates the recommendation coordinator
func NewService(store Store, runner Runner) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:          store,
		runner:         runner,
		now:            time.Now,
		ctx:            ctx,
		cancel:         cancel,
		auctionTimeout: 30 * time.Second,
	}
}

// Close stops accepting background work and waits for in-flight auctions
func (s *Service) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}

// GetOrCreate implements the three-path cache logic. At most one background
// auction runs per (session, message): the store's conditional insert is the
// single-flight gate, and a lost race re-reads the existing record.
func (s *Service) GetOrCreate(ctx context.Context, sessionID, messageID, query string) (*Response, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session_id", ErrMissingField)
	}
	if messageID == "" {
		return nil, fmt.Errorf("%w: message_id", ErrMissingField)
	}

	existing, err := s.store.GetRecommendation(ctx, sessionID, messageID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return responseFor(existing), nil
	}

	now := s.now().UTC()
	rec := &Recommendation{
		SessionID: sessionID,
		MessageID: messageID,
		Query:     query,
		Status:    StatusInProgress,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateRecommendation(ctx, rec); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			// Lost the race; serve whatever the winner wrote
			winner, getErr := s.store.GetRecommendation(ctx, sessionID, messageID)
			if getErr != nil {
				return nil, getErr
			}
			return responseFor(winner), nil
		}
		return nil, err
	}

	s.wg.Add(1)
	go s.runAuctionAndUpdate(sessionID, messageID, query)

	return &Response{
		Status:       StatusInProgress,
		RetryAfterMS: RetryAfterMS,
		Message:      "Auction initiated, please retry",
	}, nil
}

func responseFor(rec *Recommendation) *Response {
	switch rec.Status {
	case StatusCompleted:
		return &Response{
			Status:           StatusCompleted,
			WeaveContent:     rec.WeaveContent,
			ServeToken:       rec.ServeToken,
			CreativeMetadata: rec.CreativeMetadata,
		}
	case StatusFailed:
		errMsg := rec.Error
		if errMsg == "" {
			errMsg = "Auction failed"
		}
		return &Response{Status: StatusFailed, Error: errMsg}
	default:
		return &Response{
			Status:       StatusInProgress,
			RetryAfterMS: RetryAfterMS,
			Message:      "Auction in progress, please retry",
		}
	}
}

// runAuctionAndUpdate is the background worker: it runs the auction under
// the service's own context and transitions the record exactly once.
func (s *Service) runAuctionAndUpdate(sessionID, messageID, query string) {
	defer s.wg.Done()
	log := logger.Weave(sessionID, messageID)

	ctx, cancel := context.WithTimeout(s.ctx, s.auctionTimeout)
	defer cancel()

	result, err := s.runner.Run(ctx, s.buildContextRequest(messageID, sessionID, query))
	if err != nil {
		log.Error().Err(err).Msg("background auction failed")
		s.transition(sessionID, messageID, func(rec *Recommendation) {
			rec.Status = StatusFailed
			rec.Error = err.Error()
		})
		return
	}

	content, metadata := weaveCreative(result)
	s.transition(sessionID, messageID, func(rec *Recommendation) {
		rec.Status = StatusCompleted
		rec.WeaveContent = content
		rec.ServeToken = result.ServeToken
		rec.CreativeMetadata = metadata
		rec.AuctionResult = map[string]interface{}{
			"auction_id":     result.AuctionID,
			"serve_token":    result.ServeToken,
			"state":          string(result.State),
			"no_bid":         result.NoBid,
			"clearing_price": result.ClearingPrice,
		}
	})
	log.Info().
		Str("serve_token", result.ServeToken).
		Bool("no_bid", result.NoBid).
		Msg("background auction completed")
}

func (s *Service) transition(sessionID, messageID string, mutate func(*Recommendation)) {
	// The caller's request is long gone; a short independent deadline bounds
	// the store write.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.store.UpdateRecommendation(ctx, sessionID, messageID, func(rec *Recommendation) error {
		mutate(rec)
		rec.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		logger.Weave(sessionID, messageID).Error().Err(err).Msg("failed to update recommendation")
	}
}

func (s *Service) buildContextRequest(messageID, sessionID, query string) *auction.ContextRequest {
	return &auction.ContextRequest{
		ContextID:      "ctx_" + messageID,
		SessionID:      sessionID,
		QueryText:      query,
		AllowedFormats: []string{"weave"},
		Timestamp:      s.now().UTC().Format(time.RFC3339),
	}
}

// weaveCreative formats the winning offer as weave content. No winner yields
// empty content.
func weaveCreative(result *auction.Result) (string, map[string]interface{}) {
	if result.Winner == nil {
		return "", map[string]interface{}{}
	}

	offer, _ := result.Winner["offer"].(map[string]interface{})
	creative, _ := offer["creative_input"].(map[string]interface{})

	brandName, _ := creative["brand_name"].(string)
	productName, _ := creative["product_name"].(string)
	description := firstString(creative["descriptions"])
	url := firstString(creative["resource_urls"])
	if url == "" {
		url = "#"
	}

	content := fmt.Sprintf("[Ad] %s - %s Learn more: %s", productName, description, url)
	return content, map[string]interface{}{
		"brand_name":   brandName,
		"product_name": productName,
		"description":  description,
		"url":          url,
	}
}

func firstString(v interface{}) string {
	switch val := v.(type) {
	case []interface{}:
		if len(val) > 0 {
			if s, ok := val[0].(string); ok {
				return s
			}
		}
	case []string:
		if len(val) > 0 {
			return val[0]
		}
	}
	return ""
}

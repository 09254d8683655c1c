package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/StreetsDigital/aip-coordinator/internal/ledger"
	"github.com/StreetsDigital/aip-coordinator/internal/weave"
)

// FirestoreOptions configures the document-store backend
type FirestoreOptions struct {
	ProjectID  string
	Collection string
}

// FirestoreStore persists records as Firestore documents. Per-record
// atomicity comes from Firestore transactions.
type FirestoreStore struct {
	client    *firestore.Client
	ledgerCol string
	recsCol   string
}

// NewFirestoreStore connects to Firestore
func NewFirestoreStore(ctx context.Context, opts FirestoreOptions) (*FirestoreStore, error) {
	if opts.ProjectID == "" {
		return nil, fmt.Errorf("document_store backend requires project_id option")
	}
	client, err := firestore.NewClient(ctx, opts.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("firestore connect: %w", err)
	}
	ledgerCol := opts.Collection
	if ledgerCol == "" {
		ledgerCol = "aip_ledger_records"
	}
	return &FirestoreStore{
		client:    client,
		ledgerCol: ledgerCol,
		recsCol:   "aip_recommendations",
	}, nil
}

func (s *FirestoreStore) ledgerDoc(serveToken string) *firestore.DocumentRef {
	return s.client.Collection(s.ledgerCol).Doc(serveToken)
}

func (s *FirestoreStore) recommendationDoc(sessionID, messageID string) *firestore.DocumentRef {
	return s.client.Collection(s.recsCol).Doc(sessionID + "__" + messageID)
}

func toDocument(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func fromDocument(doc map[string]interface{}, out interface{}) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// CreateRecord inserts a ledger record, failing if the token is taken
func (s *FirestoreStore) CreateRecord(ctx context.Context, rec *ledger.Record) error {
	doc, err := toDocument(rec)
	if err != nil {
		return err
	}
	if _, err := s.ledgerDoc(rec.ServeToken).Create(ctx, doc); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return ledger.ErrAlreadyExists
		}
		return fmt.Errorf("firestore create: %w", err)
	}
	return nil
}

// GetRecord loads the record for a serve token
func (s *FirestoreStore) GetRecord(ctx context.Context, serveToken string) (*ledger.Record, error) {
	snap, err := s.ledgerDoc(serveToken).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("firestore get: %w", err)
	}
	var rec ledger.Record
	if err := fromDocument(snap.Data(), &rec); err != nil {
		return nil, fmt.Errorf("firestore record decode: %w", err)
	}
	return &rec, nil
}

// UpdateRecord applies mutate inside a Firestore transaction
func (s *FirestoreStore) UpdateRecord(ctx context.Context, serveToken string, mutate func(*ledger.Record) error) (*ledger.Record, error) {
	ref := s.ledgerDoc(serveToken)
	var updated *ledger.Record

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return ledger.ErrNotFound
		}
		if err != nil {
			return err
		}
		var rec ledger.Record
		if err := fromDocument(snap.Data(), &rec); err != nil {
			return err
		}
		if err := mutate(&rec); err != nil {
			return err
		}
		doc, err := toDocument(&rec)
		if err != nil {
			return err
		}
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		updated = &rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ListRecords loads all ledger records
func (s *FirestoreStore) ListRecords(ctx context.Context) ([]*ledger.Record, error) {
	iter := s.client.Collection(s.ledgerCol).Documents(ctx)
	defer iter.Stop()

	var out []*ledger.Record
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore list: %w", err)
		}
		var rec ledger.Record
		if err := fromDocument(snap.Data(), &rec); err != nil {
			return nil, fmt.Errorf("firestore record decode: %w", err)
		}
		out = append(out, &rec)
	}
	return out, nil
}

// CreateRecommendation is a conditional insert on the composite key
func (s *FirestoreStore) CreateRecommendation(ctx context.Context, rec *weave.Recommendation) error {
	doc, err := toDocument(rec)
	if err != nil {
		return err
	}
	if _, err := s.recommendationDoc(rec.SessionID, rec.MessageID).Create(ctx, doc); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return weave.ErrAlreadyExists
		}
		return fmt.Errorf("firestore create: %w", err)
	}
	return nil
}

// GetRecommendation loads the recommendation for a (session, message) key
func (s *FirestoreStore) GetRecommendation(ctx context.Context, sessionID, messageID string) (*weave.Recommendation, error) {
	snap, err := s.recommendationDoc(sessionID, messageID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, weave.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("firestore get: %w", err)
	}
	var rec weave.Recommendation
	if err := fromDocument(snap.Data(), &rec); err != nil {
		return nil, fmt.Errorf("firestore recommendation decode: %w", err)
	}
	return &rec, nil
}

// UpdateRecommendation applies mutate inside a Firestore transaction
func (s *FirestoreStore) UpdateRecommendation(ctx context.Context, sessionID, messageID string, mutate func(*weave.Recommendation) error) (*weave.Recommendation, error) {
	ref := s.recommendationDoc(sessionID, messageID)
	var updated *weave.Recommendation

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return weave.ErrNotFound
		}
		if err != nil {
			return err
		}
		var rec weave.Recommendation
		if err := fromDocument(snap.Data(), &rec); err != nil {
			return err
		}
		if err := mutate(&rec); err != nil {
			return err
		}
		doc, err := toDocument(&rec)
		if err != nil {
			return err
		}
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		updated = &rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Close closes the Firestore client
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

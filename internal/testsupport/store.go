package testsupport

import (
	"context"
	"testing"
	"time"

	"sentinel/internal/config"
	"sentinel/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewUpload inserts an upload submission in the intake state.
func NewUpload(t testing.TB, st *store.Store, submitterID, title string) *store.Submission {
	t.Helper()

	sub := &store.Submission{
		SubmitterID: submitterID,
		ItemID:      "item-" + submitterID,
		Kind:        store.KindUpload,
		MediaType:   "image/png",
		SizeBytes:   int64(len(PNGBytes())),
		Title:       title,
	}
	if err := st.InsertSubmission(context.Background(), sub); err != nil {
		t.Fatalf("store.InsertSubmission: %v", err)
	}
	return sub
}

// NewPayment inserts a payment submission in the intake state.
func NewPayment(t testing.TB, st *store.Store, submitterID string, amount float64, createdAt time.Time) *store.Submission {
	t.Helper()

	sub := &store.Submission{
		SubmitterID: submitterID,
		Kind:        store.KindPayment,
		CreatedAt:   createdAt,
		Payment: &store.PaymentPayload{
			Amount:          amount,
			Currency:        "USD",
			BillingCountry:  "US",
			ShippingCountry: "US",
			PaymentMethod:   "card",
		},
	}
	if err := st.InsertSubmission(context.Background(), sub); err != nil {
		t.Fatalf("store.InsertSubmission: %v", err)
	}
	return sub
}

//go:build integration

package integration_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/Strob0t/syncbridge/internal/domain/conflict"
	"github.com/Strob0t/syncbridge/internal/domain/syncrecord"
	"github.com/Strob0t/syncbridge/internal/domain/system"
	"github.com/Strob0t/syncbridge/internal/domain/webhook"
	"github.com/Strob0t/syncbridge/internal/middleware"
	"github.com/Strob0t/syncbridge/internal/service"
)

// createLedgerSystem registers the fake ledger and removes it when the test
// ends, so other tests do not sync against it.
func createLedgerSystem(t *testing.T) system.ExternalSystem {
	t.Helper()
	resp := doJSON(t, http.MethodPost, "/api/v1/systems", system.CreateRequest{
		Name:             "it-ledger",
		Type:             "rest",
		BaseURL:          ledgerBase,
		CredentialRef:    ledgerTokenRef,
		WebhookSecretRef: webhookSecretRef,
	}, nil)
	expectStatus(t, resp, http.StatusCreated)
	sys := decodeJSON[system.ExternalSystem](t, resp)
	t.Cleanup(func() { deleteSystem(sys.ID) })
	return sys
}

func deleteSystem(id string) {
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodDelete, testServer.URL+"/api/v1/systems/"+id, http.NoBody)
	if resp, err := http.DefaultClient.Do(req); err == nil {
		_ = resp.Body.Close()
	}
	cleanDB(testPool)
}

func insertPayment(t *testing.T, id string, amount float64, status string) {
	t.Helper()
	_, err := testPool.Exec(context.Background(),
		`INSERT INTO it_payments (id, amount, currency, status) VALUES ($1, $2, 'EUR', $3)`, id, amount, status)
	if err != nil {
		t.Fatalf("insert payment %s: %v", id, err)
	}
}

func runPass(t *testing.T) service.PassResult {
	t.Helper()
	resp := doJSON(t, http.MethodPost, "/api/v1/sync/run", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	return decodeJSON[service.PassResult](t, resp)
}

func recordFor(t *testing.T, entityID string) syncrecord.Record {
	t.Helper()
	resp := doJSON(t, http.MethodGet, "/api/v1/records?entity_type=payment&entity_id="+entityID, nil, nil)
	expectStatus(t, resp, http.StatusOK)
	list := decodeJSON[[]syncrecord.Record](t, resp)
	if len(list) != 1 {
		t.Fatalf("expected 1 sync record for %s, got %d", entityID, len(list))
	}
	return list[0]
}

func sendWebhook(t *testing.T, systemID, body string) webhook.IngestResult {
	t.Helper()
	hdr := http.Header{}
	hdr.Set(testCfg.Webhook.SignatureHeader, middleware.SignHMAC([]byte(body), webhookSecret))
	resp := doJSON(t, http.MethodPost, "/api/v1/webhooks/"+systemID, body, hdr)
	expectStatus(t, resp, http.StatusAccepted)
	return decodeJSON[webhook.IngestResult](t, resp)
}

func seedPolicy(t *testing.T) {
	t.Helper()
	if _, err := testPolicy.Seed(context.Background(), service.PolicyFromConfig(testCfg.Sync)); err != nil {
		t.Fatalf("seed policy: %v", err)
	}
}

func TestSystemConnection(t *testing.T) {
	sys := createLedgerSystem(t)

	resp := doJSON(t, http.MethodPost, "/api/v1/systems/"+sys.ID+"/test", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	got := decodeJSON[struct {
		OK bool `json:"ok"`
	}](t, resp)
	if !got.OK {
		t.Fatal("expected ledger to be reachable")
	}
}

func TestPushNewEntity(t *testing.T) {
	seedPolicy(t)
	createLedgerSystem(t)
	insertPayment(t, "p-push", 120.50, "open")
	before := testLedger.count("payments")

	resp := doJSON(t, http.MethodPost, "/api/v1/sync/trigger", syncrecord.TriggerRequest{EntityType: "payment", EntityID: "p-push"}, nil)
	expectStatus(t, resp, http.StatusAccepted)

	// A second trigger before the pass must not create a second record.
	resp = doJSON(t, http.MethodPost, "/api/v1/sync/trigger", syncrecord.TriggerRequest{EntityType: "payment", EntityID: "p-push"}, nil)
	expectStatus(t, resp, http.StatusAccepted)

	res := runPass(t)
	if res.Succeeded != 1 {
		t.Fatalf("expected 1 success, got %+v", res)
	}
	if got := testLedger.count("payments"); got != before+1 {
		t.Fatalf("expected one ledger record to be created, got %d new", got-before)
	}

	rec := recordFor(t, "p-push")
	if rec.Status != syncrecord.StatusSuccess {
		t.Fatalf("expected status success, got %q (%s)", rec.Status, rec.ErrorMessage)
	}
	if rec.ExternalID == "" || rec.LastSyncAt == nil {
		t.Fatalf("expected external id and last sync time, got %+v", rec)
	}
	ext, ok := testLedger.get("payments", rec.ExternalID)
	if !ok || ext["amount"] != 120.5 || ext["status"] != "open" {
		t.Fatalf("unexpected ledger copy %v", ext)
	}

	// Nothing is due any more.
	if res := runPass(t); res.Claimed != 0 {
		t.Fatalf("expected empty pass, got %+v", res)
	}
}

func TestWebhookConflictResolution(t *testing.T) {
	seedPolicy(t)
	sys := createLedgerSystem(t)
	insertPayment(t, "p-conflict", 80, "open")

	doJSON(t, http.MethodPost, "/api/v1/sync/trigger", syncrecord.TriggerRequest{EntityType: "payment", EntityID: "p-conflict"}, nil)
	if res := runPass(t); res.Succeeded != 1 {
		t.Fatalf("initial push: %+v", res)
	}
	rec := recordFor(t, "p-conflict")

	// The ledger marks the payment paid and notifies us.
	testLedger.set("payments", rec.ExternalID, "status", "paid")
	body := `{"event":"payment.updated","data":{"id":"` + rec.ExternalID + `"},"delivery_id":"it-d-1"}`
	if got := sendWebhook(t, sys.ID, body); got.Disposition != webhook.DispositionRequeued {
		t.Fatalf("expected requeued, got %q", got.Disposition)
	}
	if got := sendWebhook(t, sys.ID, body); got.Disposition != webhook.DispositionDuplicate {
		t.Fatalf("expected duplicate on redelivery, got %q", got.Disposition)
	}

	if res := runPass(t); res.Conflicts != 1 {
		t.Fatalf("expected 1 conflict, got %+v", res)
	}
	rec = recordFor(t, "p-conflict")
	if rec.Status != syncrecord.StatusConflict || rec.ConflictID == "" {
		t.Fatalf("expected conflict status with conflict id, got %+v", rec)
	}

	resp := doJSON(t, http.MethodGet, "/api/v1/conflicts?external_system_id="+sys.ID, nil, nil)
	expectStatus(t, resp, http.StatusOK)
	open := decodeJSON[[]conflict.Conflict](t, resp)
	if len(open) != 1 {
		t.Fatalf("expected 1 open conflict, got %d", len(open))
	}
	if fields := open[0].ConflictFields; len(fields) != 1 || fields[0] != "status" {
		t.Fatalf("expected conflict on status, got %v", fields)
	}

	// A further webhook while the conflict is open does not requeue.
	body2 := `{"event":"payment.updated","data":{"id":"` + rec.ExternalID + `"},"delivery_id":"it-d-2"}`
	if got := sendWebhook(t, sys.ID, body2); got.Disposition != webhook.DispositionBlocked {
		t.Fatalf("expected blocked, got %q", got.Disposition)
	}

	resp = doJSON(t, http.MethodPost, "/api/v1/conflicts/"+open[0].ID+"/resolve",
		conflict.ResolveRequest{Resolution: conflict.ResolutionUseExternal, ResolvedBy: "it"}, nil)
	expectStatus(t, resp, http.StatusOK)

	resp = doJSON(t, http.MethodPost, "/api/v1/conflicts/"+open[0].ID+"/resolve",
		conflict.ResolveRequest{Resolution: conflict.ResolutionUseLocal, ResolvedBy: "it"}, nil)
	expectStatus(t, resp, http.StatusConflict)

	if res := runPass(t); res.Succeeded != 1 {
		t.Fatalf("expected resolution to apply, got %+v", res)
	}
	var status string
	if err := testPool.QueryRow(context.Background(), `SELECT status FROM it_payments WHERE id = 'p-conflict'`).Scan(&status); err != nil {
		t.Fatalf("read local payment: %v", err)
	}
	if status != "paid" {
		t.Fatalf("expected local status paid after use_external, got %q", status)
	}
	if rec := recordFor(t, "p-conflict"); rec.Status != syncrecord.StatusSuccess || rec.ConflictID != "" {
		t.Fatalf("expected success without open conflict, got %+v", rec)
	}
}

func TestWebhookOrphanAndUnknownSystem(t *testing.T) {
	sys := createLedgerSystem(t)

	got := sendWebhook(t, sys.ID, `{"event":"payment.created","data":{"id":"L-unknown"}}`)
	if got.Disposition != webhook.DispositionOrphan {
		t.Fatalf("expected orphan, got %q", got.Disposition)
	}

	resp := doJSON(t, http.MethodPost, "/api/v1/webhooks/no-such-system", `{"data":{"id":"1"}}`, nil)
	expectStatus(t, resp, http.StatusNotFound)

	resp = doJSON(t, http.MethodPost, "/api/v1/webhooks/"+sys.ID, `{"data":{"id":"1"}}`,
		http.Header{testCfg.Webhook.SignatureHeader: {middleware.SignHMAC([]byte(`{"data":{"id":"1"}}`), "wrong")}})
	expectStatus(t, resp, http.StatusForbidden)
}

func TestPermanentFailureIsTerminal(t *testing.T) {
	seedPolicy(t)
	resp := doJSON(t, http.MethodPost, "/api/v1/systems", system.CreateRequest{
		Name:          "it-ledger-bad-token",
		Type:          "rest",
		BaseURL:       ledgerBase,
		CredentialRef: webhookSecretRef, // wrong credential: the ledger answers 401
	}, nil)
	expectStatus(t, resp, http.StatusCreated)
	sys := decodeJSON[system.ExternalSystem](t, resp)
	t.Cleanup(func() { deleteSystem(sys.ID) })
	insertPayment(t, "p-denied", 10, "open")

	doJSON(t, http.MethodPost, "/api/v1/sync/trigger", syncrecord.TriggerRequest{EntityType: "payment", EntityID: "p-denied"}, nil)
	if res := runPass(t); res.Failed != 1 {
		t.Fatalf("expected 1 terminal failure, got %+v", res)
	}
	rec := recordFor(t, "p-denied")
	if rec.Status != syncrecord.StatusFailed || rec.NextRetryAt != nil {
		t.Fatalf("expected terminal failure without retry, got %+v", rec)
	}
	if rec.ErrorMessage == "" {
		t.Fatal("expected an error message")
	}
}

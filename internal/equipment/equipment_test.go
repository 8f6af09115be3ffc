package equipment_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"testing/fstest"

	"github.com/tphummel/smartmine/internal/apiclient"
	"github.com/tphummel/smartmine/internal/derive"
	"github.com/tphummel/smartmine/internal/equipment"
	"github.com/tphummel/smartmine/internal/models"
	"github.com/tphummel/smartmine/internal/sample"
)

// fakeBackend returns canned results and counts calls.
type fakeBackend struct {
	list    []models.Equipment
	listErr error
	calls   int
}

func (f *fakeBackend) ListEquipment(ctx context.Context) ([]models.Equipment, error) {
	f.calls++
	return f.list, f.listErr
}

func (f *fakeBackend) CreateEquipment(ctx context.Context, e models.Equipment) (*models.Equipment, error) {
	e.ID = 99
	return &e, nil
}

func (f *fakeBackend) UpdateEquipment(ctx context.Context, id int64, e models.Equipment) (*models.Equipment, error) {
	e.ID = id
	return &e, nil
}

func (f *fakeBackend) DeleteEquipment(ctx context.Context, id int64) error { return nil }

func (f *fakeBackend) UpdateHours(ctx context.Context, id int64, h int) (*models.Equipment, error) {
	return &models.Equipment{ID: id, UsageHours: h}, nil
}

var errDown = &apiclient.Error{Kind: apiclient.ErrNetwork, Op: "list equipment", Err: errors.New("connection refused")}

func TestList_Live(t *testing.T) {
	backend := &fakeBackend{list: []models.Equipment{{ID: 1, Code: "A", MaintenanceLimit: 10}}}
	c := equipment.NewClient(backend, sample.New(), nil)

	res, err := c.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if res.Source != equipment.SourceLive {
		t.Errorf("Source: got %q, want live", res.Source)
	}
	if res.Cause != nil {
		t.Errorf("Cause: got %v, want nil", res.Cause)
	}
	if len(res.Equipment) != 1 {
		t.Errorf("len: got %d, want 1", len(res.Equipment))
	}
}

func TestList_FallsBackToSample(t *testing.T) {
	backend := &fakeBackend{listErr: errDown}
	c := equipment.NewClient(backend, sample.New(), nil)

	res, err := c.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if res.Source != equipment.SourceFallback {
		t.Errorf("Source: got %q, want fallback", res.Source)
	}
	if !errors.Is(res.Cause, apiclient.ErrNetwork) {
		t.Errorf("Cause: got %v, want ErrNetwork", res.Cause)
	}
	if len(res.Equipment) != 8 {
		t.Errorf("len: got %d, want 8", len(res.Equipment))
	}
}

func TestList_FallbackIdempotent(t *testing.T) {
	c := equipment.NewClient(&fakeBackend{listErr: errDown}, sample.New(), nil)

	a, err := c.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	b, err := c.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !reflect.DeepEqual(a.Equipment, b.Equipment) {
		t.Error("two fallback loads produced different collections")
	}
}

func TestList_BothFail(t *testing.T) {
	c := equipment.NewClient(&fakeBackend{listErr: errDown}, sample.FromFS(fstest.MapFS{}), nil)

	_, err := c.List(context.Background())
	if !errors.Is(err, apiclient.ErrNetwork) {
		t.Errorf("got %v, want ErrNetwork in chain", err)
	}
	if !errors.Is(err, sample.ErrSampleUnavailable) {
		t.Errorf("got %v, want ErrSampleUnavailable in chain", err)
	}
}

func TestList_NoSnapshot(t *testing.T) {
	c := equipment.NewClient(&fakeBackend{listErr: errDown}, nil, nil)
	_, err := c.List(context.Background())
	if !errors.Is(err, apiclient.ErrNetwork) {
		t.Errorf("got %v, want ErrNetwork", err)
	}
}

func TestList_AbandonedRequestDoesNotFallBack(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := equipment.NewClient(&fakeBackend{listErr: errDown}, sample.New(), nil)
	if _, err := c.List(ctx); err == nil {
		t.Error("expected error for cancelled context, got fallback data")
	}
}

func TestListLive_NoFallback(t *testing.T) {
	c := equipment.NewClient(&fakeBackend{listErr: errDown}, sample.New(), nil)
	if _, err := c.ListLive(context.Background()); !errors.Is(err, apiclient.ErrNetwork) {
		t.Errorf("got %v, want ErrNetwork", err)
	}
}

func TestMutationsPassThrough(t *testing.T) {
	c := equipment.NewClient(&fakeBackend{}, nil, nil)
	ctx := context.Background()

	created, err := c.Create(ctx, models.Equipment{Code: "EX-01"})
	if err != nil || created.ID != 99 {
		t.Errorf("Create: got %+v, %v", created, err)
	}
	updated, err := c.Update(ctx, 5, models.Equipment{Code: "EX-01"})
	if err != nil || updated.ID != 5 {
		t.Errorf("Update: got %+v, %v", updated, err)
	}
	if err := c.Delete(ctx, 5); err != nil {
		t.Errorf("Delete: %v", err)
	}
	hours, err := c.UpdateHours(ctx, 5, 10)
	if err != nil || hours.UsageHours != 10 {
		t.Errorf("UpdateHours: got %+v, %v", hours, err)
	}
}

// A 500 from the backend serves the bundled snapshot; its alerts are the
// six non-Good units, Critical first.
func TestList_FallbackAlertsScenario(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	c := equipment.NewClient(apiclient.NewClient(srv.URL, 0), sample.New(), nil)
	res, err := c.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !errors.Is(res.Cause, apiclient.ErrProtocol) {
		t.Errorf("Cause: got %v, want ErrProtocol", res.Cause)
	}

	alerts := derive.Alerts(res.Equipment)
	if len(alerts) != 6 {
		t.Fatalf("alerts: got %d, want 6", len(alerts))
	}
	for i, a := range alerts[:2] {
		if a.Status != models.StatusCritical {
			t.Errorf("alert %d: got %q, want Critical", i, a.Status)
		}
	}
	for i, a := range alerts[2:] {
		if a.Status != models.StatusWarning {
			t.Errorf("alert %d: got %q, want Warning", i+2, a.Status)
		}
	}
}

package service

import (
	"DealerWatch/internal/model"
	"context"
	"testing"
	"time"
)

type fakeInferrer struct {
	result model.PlateResult
	calls  int
}

func (f *fakeInferrer) InferPlate(context.Context, []string) model.PlateResult {
	f.calls++
	return f.result
}

func plateStr(s string) *string { return &s }

func TestSetKeyOrderIndependent(t *testing.T) {
	if SetKey([]string{"a", "b"}) != SetKey([]string{"b", "a"}) {
		t.Error("SetKey depends on order")
	}
	if SetKey([]string{"a", "b"}) == SetKey([]string{"a", "c"}) {
		t.Error("SetKey collision")
	}
}

func TestTTLCache(t *testing.T) {
	c := NewTTLCache[int]("test", 2, time.Hour)
	c.Add("a", 1)
	c.Add("b", 2)
	c.Add("c", 3)
	if _, ok := c.Get("a"); ok {
		t.Error("oldest entry should be evicted")
	}
	if v, ok := c.Get("c"); !ok || v != 3 {
		t.Errorf("Get(c) = %v, %v", v, ok)
	}
	c.Purge()
	if c.Len() != 0 {
		t.Errorf("Len after purge = %d", c.Len())
	}
}

func TestPlateServiceApply(t *testing.T) {
	dealer := &model.Dealer{ID: "d1"}
	images := []string{"https://img/1.jpg"}

	t.Run("accepts and caches", func(t *testing.T) {
		inf := &fakeInferrer{result: model.PlateResult{Plate: plateStr("ab 123 cd"), Confidence: 0.9}}
		svc := NewPlateService(inf, NewTTLCache[model.PlateResult]("plate_test", 16, time.Hour), 0.5, testLogger())

		fresh := []*model.Listing{
			{ListingID: "1", ImageURLs: images},
			{ListingID: "2", ImageURLs: images},
		}
		if n := svc.Apply(context.Background(), dealer, fresh, nil); n != 2 {
			t.Fatalf("inferred = %d, want 2", n)
		}
		if fresh[0].PlateValue() != "AB123CD" {
			t.Errorf("plate = %q", fresh[0].PlateValue())
		}
		if inf.calls != 1 {
			t.Errorf("inferrer calls = %d, want 1 (second served from cache)", inf.calls)
		}
	})

	t.Run("low confidence rejected", func(t *testing.T) {
		inf := &fakeInferrer{result: model.PlateResult{Plate: plateStr("AB123CD"), Confidence: 0.3}}
		svc := NewPlateService(inf, nil, 0.5, testLogger())
		fresh := []*model.Listing{{ListingID: "1", ImageURLs: images}}
		if n := svc.Apply(context.Background(), dealer, fresh, nil); n != 0 || fresh[0].Plate != nil {
			t.Errorf("inferred = %d plate = %v", n, fresh[0].Plate)
		}
	})

	t.Run("failure not cached", func(t *testing.T) {
		inf := &fakeInferrer{}
		svc := NewPlateService(inf, NewTTLCache[model.PlateResult]("plate_test", 16, time.Hour), 0.5, testLogger())
		fresh := []*model.Listing{{ListingID: "1", ImageURLs: images}}
		svc.Apply(context.Background(), dealer, fresh, nil)
		svc.Apply(context.Background(), dealer, fresh, nil)
		if inf.calls != 2 {
			t.Errorf("inferrer calls = %d, want 2", inf.calls)
		}
	})

	t.Run("skips", func(t *testing.T) {
		inf := &fakeInferrer{result: model.PlateResult{Plate: plateStr("AB123CD"), Confidence: 1}}
		svc := NewPlateService(inf, nil, 0.5, testLogger())
		known := map[string]*model.Listing{
			"latched": {ListingID: "latched", PlateEdited: true},
			"plated":  {ListingID: "plated", Plate: plateStr("ZZ999ZZ")},
		}
		fresh := []*model.Listing{
			{ListingID: "has", Plate: plateStr("FG456HJ"), ImageURLs: images},
			{ListingID: "noimg"},
			{ListingID: "latched", ImageURLs: images},
			{ListingID: "plated", ImageURLs: images},
		}
		if n := svc.Apply(context.Background(), dealer, fresh, known); n != 0 || inf.calls != 0 {
			t.Errorf("inferred = %d calls = %d", n, inf.calls)
		}
		if n := svc.Apply(context.Background(), &model.Dealer{ID: "d2", NoTarga: true}, []*model.Listing{{ListingID: "x", ImageURLs: images}}, nil); n != 0 {
			t.Errorf("no_targa dealer inferred %d", n)
		}
	})

	t.Run("nil service", func(t *testing.T) {
		var svc *PlateService
		if n := svc.Apply(context.Background(), dealer, []*model.Listing{{ListingID: "1", ImageURLs: images}}, nil); n != 0 {
			t.Errorf("nil service inferred %d", n)
		}
	})
}

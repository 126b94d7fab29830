package service

import (
	"DealerWatch/internal/model"
	"math"
	"testing"
)

func TestStringSimilarity(t *testing.T) {
	if got := StringSimilarity("Fiat Panda", "fiat-panda"); got != 1 {
		t.Errorf("normalized equal strings = %v, want 1", got)
	}
	if got := StringSimilarity("", "abc"); got != 0 {
		t.Errorf("empty = %v, want 0", got)
	}
	// kitten → sitting: 距离 3，较长串 7
	if got := StringSimilarity("kitten", "sitting"); math.Abs(got-(1-3.0/7)) > 1e-9 {
		t.Errorf("kitten/sitting = %v", got)
	}
}

func TestNumericProximity(t *testing.T) {
	cases := []struct {
		a, b, want float64
	}{
		{100, 100, 1},
		{100, 80, 0.8},
		{0, 0, 1},
		{0, 50, 0},
		{-10, -20, 0},
	}
	for _, c := range cases {
		if got := NumericProximity(c.a, c.b); math.Abs(got-c.want) > 1e-9 {
			t.Errorf("NumericProximity(%v, %v) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestListingSimilarity(t *testing.T) {
	plate := "AB123CD"
	t.Run("plate only", func(t *testing.T) {
		a := &model.Listing{Plate: &plate}
		b := &model.Listing{Plate: &plate}
		if got := ListingSimilarity(a, b); got != 1 {
			t.Errorf("similarity = %v, want 1", got)
		}
	})
	t.Run("no signals", func(t *testing.T) {
		if got := ListingSimilarity(&model.Listing{}, &model.Listing{}); got != 0 {
			t.Errorf("similarity = %v, want 0", got)
		}
	})
	t.Run("mixed", func(t *testing.T) {
		a := &model.Listing{Title: "Fiat Panda", OriginalPrice: price(10000)}
		b := &model.Listing{Title: "Fiat Panda", OriginalPrice: price(8000)}
		if got := ListingSimilarity(a, b); math.Abs(got-0.9) > 1e-9 {
			t.Errorf("similarity = %v, want 0.9", got)
		}
	})
}

func TestGroupSimilarVehicles(t *testing.T) {
	km := func(v int) *int { return &v }
	listings := []*model.Listing{
		{ListingID: "1", Brand: "Fiat", Model: "Panda", OriginalPrice: price(10000), Mileage: km(40000), Registration: "2019", Active: true},
		{ListingID: "2", Brand: "Fiat", Model: "Panda", OriginalPrice: price(10500), Mileage: km(42000), Registration: "2019", Active: true},
		{ListingID: "3", Brand: "fiat", Model: "panda", OriginalPrice: price(11000), Registration: "2019", Active: true},
		// 价格差过大
		{ListingID: "4", Brand: "Fiat", Model: "Panda", OriginalPrice: price(20000), Active: true},
		// 上牌年份不同
		{ListingID: "5", Brand: "Fiat", Model: "Panda", OriginalPrice: price(10100), Registration: "2015", Active: true},
		// 已下架
		{ListingID: "6", Brand: "Fiat", Model: "Panda", OriginalPrice: price(10000), Active: false},
		// 单独一个分组
		{ListingID: "7", Brand: "Audi", Model: "A3", OriginalPrice: price(25000), Active: true},
	}
	groups := GroupSimilarVehicles(listings)
	if len(groups) != 1 {
		t.Fatalf("groups = %d, want 1", len(groups))
	}
	g := groups[0]
	if g.Segment != "fiat panda" {
		t.Errorf("segment = %q", g.Segment)
	}
	ids := map[string]bool{}
	for _, l := range g.Listings {
		ids[l.ListingID] = true
	}
	if !ids["1"] || !ids["2"] || !ids["3"] || ids["4"] || ids["5"] || ids["6"] {
		t.Errorf("group members = %v", ids)
	}
}

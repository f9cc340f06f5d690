package scopekey

import (
	"regexp"
	"strings"
	"testing"
	"time"
	"unicode"

	"github.com/casafind/market-stats-cache/internal/core/model"
)

var nov = time.Date(2025, time.November, 14, 10, 30, 0, 0, time.UTC)

func marketReq(area string, years int) model.StatsRequest {
	return model.StatsRequest{
		Resource: model.ResourceMarket,
		Area:     area,
		AreaKind: model.AreaCity,
		Years:    years,
	}
}

func TestDeterminism_SameInputsSameKey(t *testing.T) {
	k1, m1 := Build(marketReq("Toronto", 3), nov)
	k2, m2 := Build(marketReq("Toronto", 3), nov)
	if m1 != ModeCacheable || m2 != ModeCacheable {
		t.Fatalf("expected cacheable mode, got %v and %v", m1, m2)
	}
	if k1 != k2 {
		t.Fatalf("structural equality failed: %+v vs %+v", k1, k2)
	}
	if k1.String() != k2.String() {
		t.Fatalf("determinism failed:\n k1=%s\n k2=%s", k1.String(), k2.String())
	}
}

func TestHistoryDepth_ParticipatesInKey(t *testing.T) {
	k1, _ := Build(marketReq("Toronto", 3), nov)
	k2, _ := Build(marketReq("Toronto", 5), nov)
	if k1 == k2 || k1.String() == k2.String() {
		t.Fatalf("different history depths must be different slots")
	}
}

func TestTimeBucket_MonthGranularity(t *testing.T) {
	sameMonth := time.Date(2025, time.November, 30, 23, 59, 0, 0, time.UTC)
	nextMonth := time.Date(2025, time.December, 1, 0, 0, 0, 0, time.UTC)

	k1, _ := Build(marketReq("Toronto", 3), nov)
	k2, _ := Build(marketReq("Toronto", 3), sameMonth)
	k3, _ := Build(marketReq("Toronto", 3), nextMonth)

	if k1 != k2 {
		t.Fatalf("same calendar month must map to the same slot")
	}
	if k1 == k3 {
		t.Fatalf("a new calendar month must open a new slot")
	}
}

func TestFilteredRequest_BypassesCache(t *testing.T) {
	req := marketReq("Toronto", 3)
	req.SubArea = "Downtown"
	if _, mode := Build(req, nov); mode != ModeBypassFilter {
		t.Fatalf("sub_area filter must bypass the cache, got mode %v", mode)
	}

	ptReq := model.StatsRequest{Resource: model.ResourcePropTypes, Category: "luxury"}
	if _, mode := Build(ptReq, nov); mode != ModeBypassFilter {
		t.Fatalf("category filter must bypass the cache, got mode %v", mode)
	}
}

func TestPropTypes_MonthTokenOverridesBucket(t *testing.T) {
	req := model.StatsRequest{Resource: model.ResourcePropTypes, Month: "2025-06"}
	k, mode := Build(req, nov)
	if mode != ModeCacheable {
		t.Fatalf("unfiltered proptypes request must be cacheable")
	}
	if k.Month != "2025-06" {
		t.Fatalf("month token must win over the wall clock, got %q", k.Month)
	}

	k2, _ := Build(model.StatsRequest{Resource: model.ResourcePropTypes}, nov)
	if k2.Month != "2025-11" {
		t.Fatalf("missing month token must fall back to the wall-clock bucket, got %q", k2.Month)
	}
}

func TestKeyString_ASCIISafeWithHashSuffix(t *testing.T) {
	k, _ := Build(marketReq("Zürich Région", 2), nov)
	s := k.String()

	for _, r := range s {
		if r > unicode.MaxASCII {
			t.Fatalf("non-ASCII rune leaked into key: %q in %s", r, s)
		}
	}
	if m := regexp.MustCompile(`:d=([0-9a-f]{16})$`).FindStringSubmatch(s); len(m) != 2 {
		t.Fatalf("missing or invalid :d=<hex64> suffix in key: %s", s)
	}
	if !strings.HasPrefix(s, "stats:market:") {
		t.Fatalf("unexpected key prefix: %s", s)
	}
}

func TestKeyString_SanitizeCollisionsDisambiguatedByHash(t *testing.T) {
	k1, _ := Build(marketReq("St. John's", 1), nov)
	k2, _ := Build(marketReq("St- John-s", 1), nov)
	if k1.String() == k2.String() {
		t.Fatalf("hash suffix must keep sanitized twins apart:\n%s", k1.String())
	}
}

func TestDims_RoundTripMetadata(t *testing.T) {
	k, _ := Build(marketReq("Toronto", 3), nov)
	d := k.Dims()
	if d["area"] != "Toronto" || d["area_kind"] != "city" || d["years"] != "3" || d["month"] != "2025-11" {
		t.Fatalf("unexpected dims: %+v", d)
	}
}

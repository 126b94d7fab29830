package service

import (
	"DealerWatch/internal/model"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// 相似车源判定阈值
const (
	similarPriceRatio   = 0.2
	similarMileageRatio = 0.2
)

// StringSimilarity 1 - 编辑距离/较长串长度，比较前转小写并只保留字母数字；任一为空返回 0
func StringSimilarity(a, b string) float64 {
	a, b = alnumLower(a), alnumLower(b)
	if a == "" || b == "" {
		return 0
	}
	la, lb := len([]rune(a)), len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}

func alnumLower(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, s)
}

// NumericProximity max(0, 1 - |a-b|/max(a,b))
func NumericProximity(a, b float64) float64 {
	if a == b {
		return 1
	}
	m := math.Max(a, b)
	if m <= 0 {
		return 0
	}
	return math.Max(0, 1-math.Abs(a-b)/m)
}

// ListingSimilarity 可计算信号（车牌完全一致、标题、价格、里程）的算术平均；无信号时为 0
func ListingSimilarity(a, b *model.Listing) float64 {
	var sum float64
	var n int
	if a.Plate != nil && b.Plate != nil {
		if *a.Plate == *b.Plate {
			sum++
		}
		n++
	}
	if a.Title != "" && b.Title != "" {
		sum += StringSimilarity(a.Title, b.Title)
		n++
	}
	if a.OriginalPrice.Valid && b.OriginalPrice.Valid {
		sum += NumericProximity(a.OriginalPrice.Decimal.InexactFloat64(), b.OriginalPrice.Decimal.InexactFloat64())
		n++
	}
	if a.Mileage != nil && b.Mileage != nil {
		sum += NumericProximity(float64(*a.Mileage), float64(*b.Mileage))
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// SimilarGroup 同品牌车型下互相近似的车源（连通分量）
type SimilarGroup struct {
	Segment  string           `json:"segment"`
	Listings []*model.Listing `json:"listings"`
}

// GroupSimilarVehicles 在品牌+车型分组内两两比较，输出大小≥2的连通分组
func GroupSimilarVehicles(listings []*model.Listing) []SimilarGroup {
	groups := []SimilarGroup{}

	segments := make(map[string][]*model.Listing)
	for _, l := range listings {
		if !l.Active {
			continue
		}
		seg := strings.ToLower(segmentOf(l))
		if seg == "" {
			continue
		}
		segments[seg] = append(segments[seg], l)
	}

	keys := make([]string, 0, len(segments))
	for k := range segments {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, seg := range keys {
		members := segments[seg]
		if len(members) < 2 {
			continue
		}
		sort.Slice(members, func(i, j int) bool { return members[i].ListingID < members[j].ListingID })

		uf := newUnionFind(len(members))
		for i := 0; i < len(members); i++ {
			for j := i + 1; j < len(members); j++ {
				if similarVehicles(members[i], members[j]) {
					uf.union(i, j)
				}
			}
		}

		components := make(map[int][]*model.Listing)
		order := []int{}
		for i, l := range members {
			root := uf.find(i)
			if _, ok := components[root]; !ok {
				order = append(order, root)
			}
			components[root] = append(components[root], l)
		}
		for _, root := range order {
			if len(components[root]) >= 2 {
				groups = append(groups, SimilarGroup{Segment: seg, Listings: components[root]})
			}
		}
	}
	return groups
}

func segmentOf(l *model.Listing) string {
	if l.Brand != "" {
		return l.Segment()
	}
	tokens := strings.Fields(l.Title)
	if len(tokens) > 2 {
		tokens = tokens[:2]
	}
	return strings.Join(tokens, " ")
}

// similarVehicles 价格差比例<0.2，且里程差比例<0.2（或缺失），且上牌日期相同（或缺失）
func similarVehicles(a, b *model.Listing) bool {
	pa, pb := a.OriginalPrice, b.OriginalPrice
	if !pa.Valid || !pb.Valid {
		return false
	}
	if diffRatio(pa.Decimal.InexactFloat64(), pb.Decimal.InexactFloat64()) >= similarPriceRatio {
		return false
	}
	if a.Mileage != nil && b.Mileage != nil &&
		diffRatio(float64(*a.Mileage), float64(*b.Mileage)) >= similarMileageRatio {
		return false
	}
	if a.Registration != "" && b.Registration != "" && a.Registration != b.Registration {
		return false
	}
	return true
}

func diffRatio(a, b float64) float64 {
	m := math.Max(a, b)
	if m <= 0 {
		return 0
	}
	return math.Abs(a-b) / m
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return &unionFind{parent: p}
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[rb] = ra
	}
}

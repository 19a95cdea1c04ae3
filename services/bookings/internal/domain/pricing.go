package domain

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Room is the catalogue entry a booking is made against.
type Room struct {
	ID           string  `json:"id"`
	HostelID     string  `json:"hostel_id"`
	HostelName   string  `json:"hostel_name"`
	RoomType     string  `json:"room_type"`
	MonthlyPrice float64 `json:"monthly_price"`
}

// Fees is the fee schedule. Percentages are whole numbers (1.5 means 1.5%).
type Fees struct {
	PlatformPercent float64
	MomoPercent     float64
	MomoCap         float64
}

type PriceBreakdown struct {
	Occupants     int     `json:"occupants"`
	RoomCost      float64 `json:"room_cost"`
	PlatformFee   float64 `json:"platform_fee"`
	ProcessingFee float64 `json:"processing_fee"`
	Total         float64 `json:"total"`
}

// ComputePrice prices one occupant's annual stay. It is pure: identical
// inputs give an identical 2-decimal total, and any non-finite intermediate
// collapses the breakdown to zero.
func ComputePrice(monthlyPrice float64, occupants int, fees Fees) PriceBreakdown {
	if occupants < 1 {
		occupants = 1
	}

	roomCost := monthlyPrice * 12
	if occupants > 1 {
		roomCost /= float64(occupants)
	}

	platform := Round2(roomCost * fees.PlatformPercent / 100)
	processing := Round2(math.Min(roomCost*fees.MomoPercent/100, fees.MomoCap))
	total := Round2(roomCost + platform + processing)

	for _, v := range []float64{roomCost, platform, processing, total} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return PriceBreakdown{Occupants: occupants}
		}
	}

	return PriceBreakdown{
		Occupants:     occupants,
		RoomCost:      roomCost,
		PlatformFee:   platform,
		ProcessingFee: processing,
		Total:         total,
	}
}

// Round2 rounds half away from zero to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

var (
	countedOccupancy = regexp.MustCompile(`(\d+)\s*(?:-|\s)?\s*(?:in\s*(?:a|1|one)\s*room|in\s*1|person|persons|people|beds?\b|bedded|seater|sharing|occupants?)`)
	occupancyWords   = []struct {
		word string
		n    int
	}{
		{"single", 1},
		{"double", 2},
		{"twin", 2},
		{"triple", 3},
		{"quad", 4},
	}
)

// OccupantsFromRoomType infers how many people share a room from its type
// text, e.g. "4 in a room", "2-seater", "Double". Unknown text means one.
func OccupantsFromRoomType(roomType string) int {
	text := strings.ToLower(strings.TrimSpace(roomType))
	if text == "" {
		return 1
	}

	if m := countedOccupancy.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n
		}
	}

	for _, w := range occupancyWords {
		if strings.Contains(text, w.word) {
			return w.n
		}
	}
	return 1
}

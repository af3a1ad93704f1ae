// Package geo は座標の解析と距離による絞り込みを提供する。
//
// 距離は球面近似（haversine公式）による大円距離で計算する。
// 緯度経度の差は実距離に比例しないため、平面距離は使わない。
package geo

import (
	"math"
	"strconv"
	"strings"

	"github.com/hitoshi/geoboard/internal/model"
)

// EarthRadiusMeters は地球の平均半径（IUGG）。
const EarthRadiusMeters = 6371008.8

// DefaultRadiusMeters は近傍検索の標準半径（5km）。
const DefaultRadiusMeters = 5000.0

// Distance は2点間の大円距離をメートルで返す。
func Distance(a, b model.Point) float64 {
	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)
	dLat := lat2 - lat1
	dLon := toRadians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	// 丸め誤差で1をわずかに超えるとAsinがNaNになる
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}

// Within は2点間の距離がradius以下かどうかを判定する。
func Within(a, b model.Point, radius float64) bool {
	return Distance(a, b) <= radius
}

// Filter はqueryからradiusメートル以内にあるメッセージのみを返す。
// 入力の順序（ストアの作成順）を保持し、距離による並べ替えは行わない。
// queryがnilの場合は絞り込まずに全件を返す。
func Filter(messages []*model.Message, query *model.Point, radius float64) []*model.Message {
	if query == nil {
		return messages
	}

	result := make([]*model.Message, 0, len(messages))
	for _, m := range messages {
		if Within(*query, m.Point(), radius) {
			result = append(result, m)
		}
	}
	return result
}

// ParsePoint はクエリ文字列の緯度・経度を解析する。
// 両方が空の場合はnilを返す（絞り込みなし）。
// 片方のみ指定、数値でない、範囲外の場合はValidationErrorを返す。
func ParsePoint(latitude, longitude string) (*model.Point, error) {
	latitude = strings.TrimSpace(latitude)
	longitude = strings.TrimSpace(longitude)

	if latitude == "" && longitude == "" {
		return nil, nil
	}
	if latitude == "" || longitude == "" {
		return nil, model.NewValidationError("latitude and longitude must be given together")
	}

	lat, err := strconv.ParseFloat(latitude, 64)
	if err != nil {
		return nil, model.NewValidationError("latitude is not a number")
	}
	lon, err := strconv.ParseFloat(longitude, 64)
	if err != nil {
		return nil, model.NewValidationError("longitude is not a number")
	}

	p := model.Point{Latitude: lat, Longitude: lon}
	if err := ValidatePoint(p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ValidatePoint は座標が有効範囲内かどうかを検証する。
func ValidatePoint(p model.Point) error {
	if math.IsNaN(p.Latitude) || p.Latitude < -90 || p.Latitude > 90 {
		return model.NewValidationError("latitude must be between -90 and 90")
	}
	if math.IsNaN(p.Longitude) || p.Longitude < -180 || p.Longitude > 180 {
		return model.NewValidationError("longitude must be between -180 and 180")
	}
	return nil
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

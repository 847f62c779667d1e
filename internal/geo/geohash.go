// Package geo provides the pure geospatial primitives used for campaign
// lookup and telemetry analysis: haversine distance, geohash encoding and
// decoding, neighbor expansion, and radius-to-cell-set mapping.
//
// The geohash alphabet and the longitude-first bit interleaving must stay
// exactly as implemented here: stored campaign indexes depend on them.
package geo

import (
	"fmt"
	"math"
	"strings"

	"waypoint/georeward-api/internal/domain"
)

// base32Alphabet is the standard geohash alphabet (no a, i, l, o).
const base32Alphabet = "0123456789bcdefghjkmnpqrstuvwxyz"

// earthRadiusMeters is the mean Earth radius used by the haversine formula.
const earthRadiusMeters = 6371000.0

// DefaultPrecision yields ~150m x 150m cells, the size used for campaign
// geofence indexing.
const DefaultPrecision = 7

// ErrInvalidGeohash is returned by Decode when the input contains a
// character outside the base-32 alphabet. This indicates corrupt or
// hand-crafted data, not adversarial client input, so callers treat it
// as a hard error.
var ErrInvalidGeohash = fmt.Errorf("invalid geohash")

// ─── Distance ─────────────────────────────────────────────────────────────────

// Distance returns the great-circle distance between two coordinates in
// meters, using the haversine formula. Symmetric; Distance(a, a) == 0.
func Distance(a, b domain.Coordinate) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLng := (b.Longitude - a.Longitude) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLng*sinLng

	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}

// ─── Geohash encode / decode ──────────────────────────────────────────────────

// Encode returns the geohash of a coordinate at the given precision
// (characters of output). The longitude bit is processed first; each 5-bit
// group maps to one base-32 character. Out-of-range coordinates yield
// degenerate hashes, never errors.
func Encode(c domain.Coordinate, precision int) string {
	latMin, latMax := -90.0, 90.0
	lngMin, lngMax := -180.0, 180.0

	var sb strings.Builder
	sb.Grow(precision)

	idx := 0  // accumulating 5-bit index into the alphabet
	bits := 0 // bits accumulated so far
	even := true

	for sb.Len() < precision {
		if even {
			mid := (lngMin + lngMax) / 2
			if c.Longitude >= mid {
				idx = idx*2 + 1
				lngMin = mid
			} else {
				idx = idx * 2
				lngMax = mid
			}
		} else {
			mid := (latMin + latMax) / 2
			if c.Latitude >= mid {
				idx = idx*2 + 1
				latMin = mid
			} else {
				idx = idx * 2
				latMax = mid
			}
		}
		even = !even

		bits++
		if bits == 5 {
			sb.WriteByte(base32Alphabet[idx])
			idx, bits = 0, 0
		}
	}

	return sb.String()
}

// Decode inverts Encode: it returns the center of the geohash cell together
// with the cell's half-width and half-height in degrees. It fails with
// ErrInvalidGeohash if any character is outside the base-32 alphabet; the
// alphabet is lowercase, so uppercase input is invalid.
func Decode(hash string) (center domain.Coordinate, latErr, lngErr float64, err error) {
	latMin, latMax := -90.0, 90.0
	lngMin, lngMax := -180.0, 180.0
	even := true

	for _, ch := range hash {
		idx := strings.IndexRune(base32Alphabet, ch)
		if idx < 0 {
			return domain.Coordinate{}, 0, 0,
				fmt.Errorf("%w: character %q in %q", ErrInvalidGeohash, ch, hash)
		}
		for bit := 4; bit >= 0; bit-- {
			set := idx>>bit&1 == 1
			if even {
				mid := (lngMin + lngMax) / 2
				if set {
					lngMin = mid
				} else {
					lngMax = mid
				}
			} else {
				mid := (latMin + latMax) / 2
				if set {
					latMin = mid
				} else {
					latMax = mid
				}
			}
			even = !even
		}
	}

	center = domain.Coordinate{
		Latitude:  (latMin + latMax) / 2,
		Longitude: (lngMin + lngMax) / 2,
	}
	return center, (latMax - latMin) / 2, (lngMax - lngMin) / 2, nil
}

// ─── Neighbor expansion ───────────────────────────────────────────────────────

// Neighbors returns the up-to-8 geohash cells adjacent to the given hash at
// the same precision. It recenters on the decoded cell and re-encodes at the
// eight surrounding offsets, deduplicating collapsed cells (near the poles)
// and excluding the original hash.
func Neighbors(hash string) ([]string, error) {
	center, latErr, lngErr, err := Decode(hash)
	if err != nil {
		return nil, err
	}

	precision := len(hash)
	seen := make(map[string]bool)
	var result []string

	for _, dLat := range []float64{-1, 0, 1} {
		for _, dLng := range []float64{-1, 0, 1} {
			if dLat == 0 && dLng == 0 {
				continue
			}
			n := Encode(domain.Coordinate{
				Latitude:  center.Latitude + dLat*2*latErr,
				Longitude: center.Longitude + dLng*2*lngErr,
			}, precision)
			if n != hash && !seen[n] {
				seen[n] = true
				result = append(result, n)
			}
		}
	}

	return result, nil
}

// ─── Radius lookup planning ───────────────────────────────────────────────────

// PrecisionForRadius picks the cell precision whose size best covers a
// search radius in meters.
func PrecisionForRadius(radiusMeters float64) int {
	switch {
	case radiusMeters > 5000:
		return 4
	case radiusMeters > 1000:
		return 5
	case radiusMeters > 200:
		return 6
	default:
		return 7
	}
}

// GeohashesForRadius returns the candidate cell set a spatial-index lookup
// should scan to find everything within radiusMeters of the center: the
// center's own cell plus its neighbors, at a radius-appropriate precision.
func GeohashesForRadius(center domain.Coordinate, radiusMeters float64) []string {
	precision := PrecisionForRadius(radiusMeters)
	h := Encode(center, precision)

	// The hash was produced by Encode, so Neighbors cannot fail here.
	neighbors, _ := Neighbors(h)
	return append([]string{h}, neighbors...)
}

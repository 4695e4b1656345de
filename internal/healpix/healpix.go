// Package healpix maps sky positions to pixels of the HEALPix equal-area
// pixelization in nested ordering, and enumerates the pixels that may
// intersect a disc on the sky.
package healpix

import (
	"fmt"
	"math"
	"slices"
)

// Nside is the resolution used for catalog spatial keys: 12*256*256
// pixels of roughly 13.7 arcmin.
const Nside = 256

const (
	twoThirds = 2.0 / 3.0
	halfPi    = math.Pi / 2
	twoPi     = 2 * math.Pi
)

// Npix returns the number of pixels at resolution nside.
func Npix(nside int) int64 {
	return 12 * int64(nside) * int64(nside)
}

func checkNside(nside int) error {
	if nside <= 0 || nside&(nside-1) != 0 || nside > 1<<29 {
		return fmt.Errorf("nside %d is not a power of two", nside)
	}
	return nil
}

// Ang2PixNest returns the nested pixel id containing the position given in
// degrees. RA is wrapped into [0, 360); Dec must lie in [-90, 90].
func Ang2PixNest(nside int, raDeg, decDeg float64) (int64, error) {
	if err := checkNside(nside); err != nil {
		return 0, err
	}
	if math.IsNaN(raDeg) || math.IsNaN(decDeg) || math.IsInf(raDeg, 0) {
		return 0, fmt.Errorf("invalid position (%v, %v)", raDeg, decDeg)
	}
	if decDeg < -90 || decDeg > 90 {
		return 0, fmt.Errorf("declination %v out of range", decDeg)
	}
	z := math.Sin(decDeg * math.Pi / 180)
	phi := math.Mod(raDeg*math.Pi/180, twoPi)
	if phi < 0 {
		phi += twoPi
	}
	return zPhi2PixNest(nside, z, phi), nil
}

func zPhi2PixNest(nside int, z, phi float64) int64 {
	ns := int64(nside)
	za := math.Abs(z)
	tt := phi / halfPi
	if tt >= 4 {
		tt = 0
	}

	var face, ix, iy int64
	if za <= twoThirds {
		t1 := float64(ns) * (0.5 + tt)
		t2 := float64(ns) * z * 0.75
		jp := int64(t1 - t2)
		jm := int64(t1 + t2)
		ifp := jp / ns
		ifm := jm / ns
		switch {
		case ifp == ifm:
			face = ifp | 4
		case ifp < ifm:
			face = ifp
		default:
			face = ifm + 8
		}
		ix = jm & (ns - 1)
		iy = ns - (jp & (ns - 1)) - 1
	} else {
		ntt := int64(tt)
		if ntt >= 4 {
			ntt = 3
		}
		tp := tt - float64(ntt)
		tmp := float64(ns) * math.Sqrt(3*(1-za))
		jp := min(int64(tp*tmp), ns-1)
		jm := min(int64((1-tp)*tmp), ns-1)
		if z >= 0 {
			face = ntt
			ix = ns - jm - 1
			iy = ns - jp - 1
		} else {
			face = ntt + 8
			ix = jp
			iy = jm
		}
	}
	return face*ns*ns + spread(ix) + spread(iy)<<1
}

// spread interleaves the bits of v with zeros.
func spread(v int64) int64 {
	x := uint64(v) & 0xffffffff
	x = (x | x<<16) & 0x0000ffff0000ffff
	x = (x | x<<8) & 0x00ff00ff00ff00ff
	x = (x | x<<4) & 0x0f0f0f0f0f0f0f0f
	x = (x | x<<2) & 0x3333333333333333
	x = (x | x<<1) & 0x5555555555555555
	return int64(x)
}

// MaxPixelRadius bounds, in radians, the angular distance from a pixel
// center to any point of that pixel. The bound is loose on purpose: it
// only widens the candidate set of QueryDisc.
func MaxPixelRadius(nside int) float64 {
	resolution := math.Sqrt(4 * math.Pi / float64(Npix(nside)))
	return 1.5 * resolution
}

// QueryDisc returns the nested ids of every pixel that may contain a point
// within radiusDeg of (raDeg, decDeg). The result is a superset of the
// pixels that intersect the disc, in ascending order.
func QueryDisc(nside int, raDeg, decDeg, radiusDeg float64) ([]int64, error) {
	if err := checkNside(nside); err != nil {
		return nil, err
	}
	if decDeg < -90 || decDeg > 90 || math.IsNaN(raDeg) || math.IsNaN(decDeg) {
		return nil, fmt.Errorf("invalid position (%v, %v)", raDeg, decDeg)
	}
	if radiusDeg < 0 || math.IsNaN(radiusDeg) {
		return nil, fmt.Errorf("invalid radius %v", radiusDeg)
	}

	theta0 := halfPi - decDeg*math.Pi/180
	phi0 := raDeg * math.Pi / 180
	reach := radiusDeg*math.Pi/180 + MaxPixelRadius(nside)
	if reach >= math.Pi {
		return allPixels(nside), nil
	}
	cosReach := math.Cos(reach)
	center := unitVector(theta0, phi0)

	seen := make(map[int64]struct{})
	for ring := 1; ring < 4*nside; ring++ {
		z, count, phase := ringGeometry(nside, ring)
		theta := math.Acos(z)
		if math.Abs(theta-theta0) > reach {
			continue
		}
		step := twoPi / float64(count)
		for j := 0; j < count; j++ {
			phi := (float64(j) + phase) * step
			v := unitVector(theta, phi)
			if dot(v, center) < cosReach {
				continue
			}
			seen[zPhi2PixNest(nside, z, phi)] = struct{}{}
		}
	}

	out := make([]int64, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	slices.Sort(out)
	return out, nil
}

// ringGeometry returns the z coordinate of ring i (1-based, north to
// south), its pixel count, and the phase of its first pixel center in units
// of the ring's pixel spacing.
func ringGeometry(nside, i int) (z float64, count int, phase float64) {
	ns := float64(nside)
	switch {
	case i < nside:
		z = 1 - float64(i*i)/(3*ns*ns)
		return z, 4 * i, 0.5
	case i <= 3*nside:
		z = float64(2*nside-i) * 2 / (3 * ns)
		phase = 0.5
		if (i-nside)%2 == 1 {
			phase = 0
		}
		return z, 4 * nside, phase
	default:
		k := 4*nside - i
		z = -(1 - float64(k*k)/(3*ns*ns))
		return z, 4 * k, 0.5
	}
}

func allPixels(nside int) []int64 {
	n := Npix(nside)
	out := make([]int64, n)
	for i := range out {
		out[i] = int64(i)
	}
	return out
}

func unitVector(theta, phi float64) [3]float64 {
	st := math.Sin(theta)
	return [3]float64{st * math.Cos(phi), st * math.Sin(phi), math.Cos(theta)}
}

func dot(a, b [3]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

// AngularSeparation returns the great-circle distance in degrees.
func AngularSeparation(ra1, dec1, ra2, dec2 float64) float64 {
	a := unitVector(halfPi-dec1*math.Pi/180, ra1*math.Pi/180)
	b := unitVector(halfPi-dec2*math.Pi/180, ra2*math.Pi/180)
	d := math.Max(-1, math.Min(1, dot(a, b)))
	return math.Acos(d) * 180 / math.Pi
}

package normalize

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"skycat/internal/header"
	"skycat/internal/healpix"
)

type recordingLogger struct {
	warnings []string
}

func (l *recordingLogger) Warn(msg string, _ ...any) { l.warnings = append(l.warnings, msg) }

func loadHeader(t *testing.T, name string) *header.Header {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("reading fixture: %v", err)
	}
	return header.ParseHeader(data)
}

func ptrEq[T comparable](p *T, want T) bool {
	return p != nil && *p == want
}

func TestChain_VendorFixtures(t *testing.T) {
	t.Parallel()
	chain := NewChain(nil)

	t.Run("sgp", func(t *testing.T) {
		h := loadHeader(t, "sgp_fixed_wcs.hdr")
		if hd, _ := chain.Handler(h); hd.Name != "sgp" {
			t.Errorf("handler = %q, want sgp", hd.Name)
		}
		m, err := chain.Normalize("f1", h)
		if err != nil {
			t.Fatalf("Normalize() error = %v", err)
		}
		if m.ImageType != "LIGHT" || m.Filter != "HaOIII" || m.ObjectName != "M57" {
			t.Errorf("type/filter/object = %q/%q/%q", m.ImageType, m.Filter, m.ObjectName)
		}
		if m.Camera != "ZWO ASI294MC Pro" || m.Telescope != "EQMOD ASCOM HEQ5/6" {
			t.Errorf("camera/telescope = %q/%q", m.Camera, m.Telescope)
		}
		if !ptrEq(m.Exposure, 30.0) || !ptrEq(m.Gain, int64(120)) || !ptrEq(m.Offset, int64(30)) {
			t.Errorf("exposure/gain/offset = %v/%v/%v", m.Exposure, m.Gain, m.Offset)
		}
		if !ptrEq(m.Binning, int64(1)) || !ptrEq(m.SetTemp, -18.0) {
			t.Errorf("binning/set temp = %v/%v", m.Binning, m.SetTemp)
		}
		wantDate := time.Date(2020, 5, 30, 0, 22, 49, 96882000, time.UTC)
		if m.DateObs == nil || !m.DateObs.Equal(wantDate) {
			t.Errorf("DateObs = %v, want %v", m.DateObs, wantDate)
		}
		if m.Position == nil {
			t.Fatal("Position = nil")
		}
		if m.Position.RA != 283.395539831101 || m.Position.Dec != 33.0340625 {
			t.Errorf("Position = %+v", m.Position)
		}
		wantPix, _ := healpix.Ang2PixNest(healpix.Nside, 283.395539831101, 33.0340625)
		if m.Position.Pixel != wantPix {
			t.Errorf("Pixel = %d, want %d", m.Position.Pixel, wantPix)
		}
	})

	t.Run("nina", func(t *testing.T) {
		h := loadHeader(t, "nina.hdr")
		if hd, _ := chain.Handler(h); hd.Name != "nina" {
			t.Errorf("handler = %q, want nina", hd.Name)
		}
		m, err := chain.Normalize("f2", h)
		if err != nil {
			t.Fatalf("Normalize() error = %v", err)
		}
		if m.ImageType != "LIGHT" || m.Filter != "" {
			t.Errorf("type/filter = %q/%q", m.ImageType, m.Filter)
		}
		if !ptrEq(m.Exposure, 30.0) || !ptrEq(m.Gain, int64(120)) || !ptrEq(m.SetTemp, -10.0) {
			t.Errorf("exposure/gain/set temp = %v/%v/%v", m.Exposure, m.Gain, m.SetTemp)
		}
		// OBJCTRA '00 00 00' / OBJCTDEC '+00 00 00' is the "no target" placeholder.
		if m.Position != nil {
			t.Errorf("Position = %+v, want nil", m.Position)
		}
	})

	t.Run("sharpcap", func(t *testing.T) {
		h := loadHeader(t, "sharpcap.hdr")
		if hd, _ := chain.Handler(h); hd.Name != "sharpcap" {
			t.Errorf("handler = %q, want sharpcap", hd.Name)
		}
		m, err := chain.Normalize("f3", h)
		if err != nil {
			t.Fatalf("Normalize() error = %v", err)
		}
		if !ptrEq(m.Exposure, 2.0) {
			t.Errorf("Exposure = %v, want 2 from EXPTIME", m.Exposure)
		}
		if m.ImageType != "" || m.Gain != nil {
			t.Errorf("type/gain = %q/%v, want empty", m.ImageType, m.Gain)
		}
		if m.Camera != "ZWO ASI290MM Mini" {
			t.Errorf("Camera = %q", m.Camera)
		}
	})

	t.Run("maxim generic with sexagesimal", func(t *testing.T) {
		h := loadHeader(t, "maximdl.hdr")
		if hd, _ := chain.Handler(h); hd.Name != "generic" {
			t.Errorf("handler = %q, want generic", hd.Name)
		}
		m, err := chain.Normalize("f4", h)
		if err != nil {
			t.Fatalf("Normalize() error = %v", err)
		}
		if m.ImageType != "LIGHT" || m.Filter != "SII" || m.ObjectName != "m17" {
			t.Errorf("type/filter/object = %q/%q/%q", m.ImageType, m.Filter, m.ObjectName)
		}
		if !ptrEq(m.Exposure, 300.0) || !ptrEq(m.SetTemp, -35.0) {
			t.Errorf("exposure/set temp = %v/%v", m.Exposure, m.SetTemp)
		}
		if m.Position == nil {
			t.Fatal("Position = nil")
		}
		wantRA := (18 + 20.0/60 + 48.12/3600) * 15
		wantDec := -(16 + 10.0/60 + 58.8/3600)
		if math.Abs(m.Position.RA-wantRA) > 1e-9 || math.Abs(m.Position.Dec-wantDec) > 1e-9 {
			t.Errorf("Position = %+v, want (%v, %v)", m.Position, wantRA, wantDec)
		}
	})

	t.Run("dwarf combined binning and zero position", func(t *testing.T) {
		h := loadHeader(t, "dwarflab.hdr")
		m, err := chain.Normalize("f5", h)
		if err != nil {
			t.Fatalf("Normalize() error = %v", err)
		}
		if !ptrEq(m.Binning, int64(2)) {
			t.Errorf("Binning = %v, want 2 from BINNING '2*2'", m.Binning)
		}
		if !ptrEq(m.Exposure, 15.0) {
			t.Errorf("Exposure = %v, want 15 from EXP", m.Exposure)
		}
		if m.Position != nil {
			t.Errorf("Position = %+v, want nil for (0, 0)", m.Position)
		}
		if m.ObjectName != "" {
			t.Errorf("ObjectName = %q, want empty", m.ObjectName)
		}
	})
}

func TestGeneric_FallbackKeywords(t *testing.T) {
	t.Parallel()
	chain := NewChainWith(nil, Generic())

	tests := []struct {
		name  string
		cards []header.Card
		check func(t *testing.T, h *header.Header)
	}{
		{
			name: "exposure prefers EXPTIME over EXPOSURE and EXP",
			cards: []header.Card{
				{Keyword: "EXP", Value: 1.0},
				{Keyword: "EXPOSURE", Value: 2.0},
				{Keyword: "EXPTIME", Value: 3.0},
			},
			check: func(t *testing.T, h *header.Header) {
				m, _ := chain.Normalize("x", h)
				if !ptrEq(m.Exposure, 3.0) {
					t.Errorf("Exposure = %v, want 3", m.Exposure)
				}
			},
		},
		{
			name:  "OBSTYPE and FILTNAME aliases",
			cards: []header.Card{{Keyword: "OBSTYPE", Value: "Master Dark Frame"}, {Keyword: "FILTNAME", Value: "L"}},
			check: func(t *testing.T, h *header.Header) {
				m, _ := chain.Normalize("x", h)
				if m.ImageType != "MASTER DARK" || m.Filter != "L" {
					t.Errorf("type/filter = %q/%q", m.ImageType, m.Filter)
				}
			},
		},
		{
			name:  "no binning keywords",
			cards: []header.Card{{Keyword: "SIMPLE", Value: true}},
			check: func(t *testing.T, h *header.Header) {
				m, _ := chain.Normalize("x", h)
				if m.Binning != nil {
					t.Errorf("Binning = %v, want nil", *m.Binning)
				}
			},
		},
		{
			name:  "CCDTEMP alias",
			cards: []header.Card{{Keyword: "CCDTEMP", Value: int64(-20)}},
			check: func(t *testing.T, h *header.Header) {
				m, _ := chain.Normalize("x", h)
				if !ptrEq(m.SetTemp, -20.0) {
					t.Errorf("SetTemp = %v, want -20", m.SetTemp)
				}
			},
		},
		{
			name:  "bad gain fails the record",
			cards: []header.Card{{Keyword: "GAIN", Value: "high"}},
			check: func(t *testing.T, h *header.Header) {
				if _, err := chain.Normalize("x", h); err == nil {
					t.Error("Normalize() error = nil, want conversion error")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, header.New(tt.cards...))
		})
	}
}

func TestNormalize_BadPositionIsLogged(t *testing.T) {
	t.Parallel()

	logger := &recordingLogger{}
	chain := NewChain(logger)
	h := header.New(
		header.Card{Keyword: "IMAGETYP", Value: "Light"},
		header.Card{Keyword: "OBJCTRA", Value: "not an angle"},
		header.Card{Keyword: "OBJCTDEC", Value: "+10 00 00"},
	)
	m, err := chain.Normalize("x", h)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if m.Position != nil {
		t.Errorf("Position = %+v, want nil", m.Position)
	}
	if m.ImageType != "LIGHT" {
		t.Errorf("ImageType = %q, other fields must survive", m.ImageType)
	}
	if len(logger.warnings) != 1 {
		t.Errorf("got %d warnings, want 1", len(logger.warnings))
	}
}

func TestImageType(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{"Light Frame", "LIGHT"},
		{"LIGHT", "LIGHT"},
		{"Dark Frame", "DARK"},
		{"flat", "FLAT"},
		{"Bias Frame", "BIAS"},
		{"MasterLight", "MASTER LIGHT"},
		{"Master Light Frame", "MASTER LIGHT"},
		{"MASTER_DARK", "MASTER DARK"},
		{"Master Bias", "MASTER BIAS"},
		{"Flat Field", "FLAT"},
		{"DarkFlat", "DARKFLAT"},
		{"Dark Flat Frame", "DARKFLAT"},
		{"Master DarkFlat", "MASTER DARKFLAT"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ImageType(tt.in); got != tt.want {
			t.Errorf("ImageType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseTimestamp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want time.Time
		wantNil bool
	}{
		{in: "2021-03-02T20:19:00.455", want: time.Date(2021, 3, 2, 20, 19, 0, 455000000, time.UTC)},
		{in: "2021-03-02T20:19:00Z", want: time.Date(2021, 3, 2, 20, 19, 0, 0, time.UTC)},
		{in: "2021-03-02T22:19:00+02:00", want: time.Date(2021, 3, 2, 20, 19, 0, 0, time.UTC)},
		{in: "2019-04-29T20:25:29.8219583", want: time.Date(2019, 4, 29, 20, 25, 29, 821958300, time.UTC)},
		{in: "2018-07-04T14:03:03", want: time.Date(2018, 7, 4, 14, 3, 3, 0, time.UTC)},
		{in: "N/A", wantNil: true},
		{in: "", wantNil: true},
		{in: "04/07/18", wantNil: true},
	}
	for _, tt := range tests {
		got := ParseTimestamp(tt.in)
		if tt.wantNil {
			if got != nil {
				t.Errorf("ParseTimestamp(%q) = %v, want nil", tt.in, got)
			}
			continue
		}
		if got == nil || !got.Equal(tt.want) || got.Location() != time.UTC {
			t.Errorf("ParseTimestamp(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseSexagesimal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{in: "18 53 34.930", want: 18 + 53.0/60 + 34.93/3600},
		{in: "+33 02 02.625", want: 33 + 2.0/60 + 2.625/3600},
		{in: "-00 30 00", want: -0.5},
		{in: "12:30:00", want: 12.5},
		{in: "12h30m00s", want: 12.5},
		{in: "7.25", want: 7.25},
		{in: "10 75 00", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseSexagesimal(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseSexagesimal(%q) error = nil, want error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseSexagesimal(%q) error = %v", tt.in, err)
			continue
		}
		if math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("ParseSexagesimal(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

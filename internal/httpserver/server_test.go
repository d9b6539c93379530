package httpserver

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"ftpshare/internal/config"
	"ftpshare/internal/ftptest"
	"ftpshare/internal/share"
)

const rootListing = "drwxr-xr-x    2 ftp      ftp          4096 Jan 01 12:00 photos\r\n" +
	"-rw-r--r--    1 ftp      ftp          1234 Jan 01 12:00 <b>&.txt\r\n" +
	"-rw-r--r--    1 ftp      ftp            11 Jan 01 12:00 report.pdf\r\n"

type testEnv struct {
	ftp *ftptest.Server
	web *httptest.Server
	srv *Server
	reg *share.Registry
}

func newTestEnv(t *testing.T, script ftptest.Script, mods ...func(*config.Config)) *testEnv {
	t.Helper()
	fs := ftptest.Start(t, script)
	base := func(c *config.Config) {
		c.FTP.Host = fs.Host()
		c.FTP.Port = fs.Port()
		c.FTP.ControlTimeout = config.Duration(2 * time.Second)
		c.FTP.DataTimeout = config.Duration(2 * time.Second)
	}
	cfg, err := config.Load("", append([]func(*config.Config){base}, mods...)...)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	reg := share.NewRegistry()
	srv, err := New(Options{Config: cfg, Registry: reg})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	web := httptest.NewServer(srv.Handler())
	t.Cleanup(web.Close)
	return &testEnv{ftp: fs, web: web, srv: srv, reg: reg}
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	res, err := http.Get(e.web.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return res
}

func (e *testEnv) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	res, err := http.Post(e.web.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return res
}

func readBody(t *testing.T, res *http.Response) string {
	t.Helper()
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}

func TestHealthzAndIndex(t *testing.T) {
	e := newTestEnv(t, ftptest.Script{})

	res := e.get(t, "/healthz")
	if body := readBody(t, res); res.StatusCode != http.StatusOK || body != "ok\n" {
		t.Fatalf("healthz = %d %q", res.StatusCode, body)
	}

	res = e.get(t, "/")
	body := readBody(t, res)
	if res.StatusCode != http.StatusOK || !strings.Contains(body, "/api/files") {
		t.Fatalf("index = %d, len %d", res.StatusCode, len(body))
	}
	if got := res.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("nosniff header = %q", got)
	}
	if res.Header.Get("X-Request-ID") == "" {
		t.Errorf("missing X-Request-ID")
	}
}

func TestFilesListing(t *testing.T) {
	e := newTestEnv(t, ftptest.Script{Listings: map[string]string{"/": rootListing}})
	e.reg.ToggleShareable("/report.pdf", true)

	res := e.get(t, "/api/files?dir=/")
	raw := readBody(t, res)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", res.StatusCode, raw)
	}
	if !strings.Contains(raw, `"<b>&.txt"`) {
		t.Errorf("names should not be HTML-escaped: %s", raw)
	}

	var items []struct {
		Name      string `json:"name"`
		Path      string `json:"path"`
		Type      string `json:"type"`
		Size      int64  `json:"size"`
		Shareable bool   `json:"shareable"`
	}
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("items = %+v", items)
	}
	if d := items[0]; d.Type != "directory" || d.Size != 0 || d.Shareable || d.Path != "/photos" {
		t.Errorf("directory item = %+v", d)
	}
	if f := items[1]; f.Type != "file" || f.Size != 1234 || f.Shareable || f.Path != "/<b>&.txt" {
		t.Errorf("file item = %+v", f)
	}
	if f := items[2]; !f.Shareable {
		t.Errorf("report.pdf should keep its shareable flag: %+v", f)
	}
}

func TestFilesListingErrors(t *testing.T) {
	e := newTestEnv(t, ftptest.Script{Listings: map[string]string{"/": rootListing}})

	res := e.get(t, "/api/files?dir=/missing")
	readBody(t, res)
	if res.StatusCode != http.StatusInternalServerError {
		t.Errorf("unknown dir status = %d, want 500", res.StatusCode)
	}

	res = e.get(t, "/api/files?dir=/../etc")
	readBody(t, res)
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("escaping dir status = %d, want 400", res.StatusCode)
	}
}

func TestShareFlow(t *testing.T) {
	content := []byte("hello world")
	e := newTestEnv(t, ftptest.Script{Files: map[string][]byte{"/report.pdf": content}})

	res := e.post(t, "/api/share", `{"path":"/report.pdf","expiry":24}`)
	if body := readBody(t, res); res.StatusCode != http.StatusBadRequest || !strings.Contains(body, "not shareable") {
		t.Fatalf("share before toggle = %d %q", res.StatusCode, body)
	}

	res = e.post(t, "/api/toggle-shareable", `{"path":"/report.pdf","shareable":true}`)
	if body := readBody(t, res); body != "file is shareable" {
		t.Fatalf("toggle on = %q", body)
	}

	res = e.post(t, "/api/share", `{"path":"/report.pdf","expiry":500}`)
	var created struct {
		Link   string `json:"link"`
		Expiry int    `json:"expiry"`
	}
	if err := json.Unmarshal([]byte(readBody(t, res)), &created); err != nil {
		t.Fatalf("decode share: %v", err)
	}
	if created.Expiry != share.MaxHours || !strings.HasPrefix(created.Link, "/share/") || len(created.Link) != len("/share/")+8 {
		t.Fatalf("share response = %+v", created)
	}

	// toggling off does not revoke an existing link
	res = e.post(t, "/api/toggle-shareable", `{"path":"/report.pdf","shareable":false}`)
	if body := readBody(t, res); body != "file is not shareable" {
		t.Fatalf("toggle off = %q", body)
	}

	res = e.get(t, created.Link)
	body := readBody(t, res)
	if res.StatusCode != http.StatusOK || body != string(content) {
		t.Fatalf("share download = %d %q", res.StatusCode, body)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("content type = %q", ct)
	}

	res = e.get(t, "/api/shares")
	if body := readBody(t, res); !strings.Contains(body, created.Link) || !strings.Contains(body, `"expires_at"`) {
		t.Errorf("shares = %s", body)
	}
}

func TestShareDefaultExpiry(t *testing.T) {
	e := newTestEnv(t, ftptest.Script{}, func(c *config.Config) { c.Share.DefaultHours = 6 })
	e.reg.ToggleShareable("/a.bin", true)

	res := e.post(t, "/api/share", `{"path":"/a.bin"}`)
	var created struct {
		Expiry int `json:"expiry"`
	}
	if err := json.Unmarshal([]byte(readBody(t, res)), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Expiry != 6 {
		t.Errorf("expiry = %d, want 6", created.Expiry)
	}
}

func TestUnknownShareLink(t *testing.T) {
	e := newTestEnv(t, ftptest.Script{})
	res := e.get(t, "/share/deadbeef")
	readBody(t, res)
	if res.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", res.StatusCode)
	}
}

func TestShareRateLimit(t *testing.T) {
	e := newTestEnv(t, ftptest.Script{}, func(c *config.Config) {
		c.Share.RatePerMinute = 1
		c.Share.RateBurst = 2
	})
	want := []int{http.StatusNotFound, http.StatusNotFound, http.StatusTooManyRequests}
	for i, code := range want {
		res := e.get(t, "/share/00000000")
		readBody(t, res)
		if res.StatusCode != code {
			t.Fatalf("request %d status = %d, want %d", i, res.StatusCode, code)
		}
	}
}

func TestRateLimiterSweep(t *testing.T) {
	l := newIPRateLimiter(60, 1)
	now := time.Now()
	l.allow("192.0.2.1", now)
	l.allow("192.0.2.2", now.Add(9*time.Minute))

	if n := l.Sweep(now.Add(15 * time.Minute)); n != 1 {
		t.Fatalf("swept %d, want 1", n)
	}
	if n := l.Sweep(now.Add(15 * time.Minute)); n != 0 {
		t.Fatalf("second sweep removed %d", n)
	}

	var disabled *ipRateLimiter
	if !disabled.allow("x", now) || disabled.Sweep(now) != 0 {
		t.Fatalf("nil limiter should allow everything")
	}
}

func TestDownload(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), 5000)
	e := newTestEnv(t, ftptest.Script{Files: map[string][]byte{
		"/dir/my file.bin": data,
		"/song.mp3":        []byte("ID3"),
	}})

	res := e.get(t, "/dir/my%20file.bin")
	body := readBody(t, res)
	if res.StatusCode != http.StatusOK || body != string(data) {
		t.Fatalf("download = %d, %d bytes", res.StatusCode, len(body))
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/octet-stream" {
		t.Errorf("content type = %q", ct)
	}
	if cd := res.Header.Get("Content-Disposition"); cd != `attachment; filename="my file.bin"` {
		t.Errorf("disposition = %q", cd)
	}
	if len(res.TransferEncoding) == 0 || res.TransferEncoding[0] != "chunked" {
		t.Errorf("transfer encoding = %v", res.TransferEncoding)
	}

	res = e.get(t, "/song.mp3")
	readBody(t, res)
	if ct := res.Header.Get("Content-Type"); ct != "audio/mpeg" || res.Header.Get("Content-Disposition") != "" {
		t.Errorf("mp3 headers = %v", res.Header)
	}
}

func TestDownloadNotFound(t *testing.T) {
	e := newTestEnv(t, ftptest.Script{})
	res := e.get(t, "/nope.txt")
	readBody(t, res)
	if res.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", res.StatusCode)
	}
}

func TestDownloadTruncatedOnLateFailure(t *testing.T) {
	data := bytes.Repeat([]byte{'x'}, 20000)
	for name, script := range map[string]ftptest.Script{
		"missing final reply": {Files: map[string][]byte{"/f": data}, OmitFinalReply: true},
		"451":                 {Files: map[string][]byte{"/f": data}, FinalCode: 451},
	} {
		t.Run(name, func(t *testing.T) {
			e := newTestEnv(t, script)
			res := e.get(t, "/f")
			defer res.Body.Close()
			if res.StatusCode != http.StatusOK {
				t.Fatalf("status = %d", res.StatusCode)
			}
			if _, err := io.ReadAll(res.Body); err == nil {
				t.Fatalf("expected a truncated body")
			}
		})
	}
}

func TestAdmissionFull(t *testing.T) {
	hold := make(chan struct{})
	e := newTestEnv(t, ftptest.Script{
		Files: map[string][]byte{"/big": []byte("payload")},
		Hold:  hold,
	}, func(c *config.Config) { c.MaxTransfers = 1 })

	// headers arrive once the first transfer holds its slot
	first := e.get(t, "/big")

	res := e.get(t, "/big")
	readBody(t, res)
	if res.StatusCode != http.StatusServiceUnavailable || res.Header.Get("Retry-After") == "" {
		t.Errorf("second request = %d, Retry-After %q", res.StatusCode, res.Header.Get("Retry-After"))
	}

	close(hold)
	if body := readBody(t, first); body != "payload" {
		t.Errorf("first body = %q", body)
	}

	res = e.get(t, "/big")
	if body := readBody(t, res); res.StatusCode != http.StatusOK || body != "payload" {
		t.Errorf("after release = %d %q", res.StatusCode, body)
	}
}

func TestAuthRequired(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	e := newTestEnv(t, ftptest.Script{
		Listings: map[string]string{"/": rootListing},
		Files:    map[string][]byte{"/report.pdf": []byte("pdf")},
	}, func(c *config.Config) {
		c.Users = map[string]config.User{"alice": {Bcrypt: string(hash)}}
	})

	for _, p := range []string{"/api/files", "/api/shares", "/report.pdf"} {
		res := e.get(t, p)
		readBody(t, res)
		if res.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s without creds = %d, want 401", p, res.StatusCode)
		}
	}
	for p, code := range map[string]int{"/": 200, "/healthz": 200, "/share/00000000": 404} {
		res := e.get(t, p)
		readBody(t, res)
		if res.StatusCode != code {
			t.Errorf("%s public = %d, want %d", p, res.StatusCode, code)
		}
	}

	req, _ := http.NewRequest(http.MethodGet, e.web.URL+"/report.pdf", nil)
	req.SetBasicAuth("alice", "s3cret")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if body := readBody(t, res); res.StatusCode != http.StatusOK || body != "pdf" {
		t.Errorf("authenticated download = %d %q", res.StatusCode, body)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	e := newTestEnv(t, ftptest.Script{})
	res := e.get(t, "/api/share")
	readBody(t, res)
	if res.StatusCode != http.StatusMethodNotAllowed || res.Header.Get("Allow") != http.MethodPost {
		t.Errorf("GET /api/share = %d Allow %q", res.StatusCode, res.Header.Get("Allow"))
	}

	res = e.post(t, "/api/toggle-shareable", `{"path":`)
	readBody(t, res)
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("bad json = %d, want 400", res.StatusCode)
	}
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestThumb(t *testing.T) {
	e := newTestEnv(t, ftptest.Script{Files: map[string][]byte{
		"/pics/wide.png": encodePNG(t, 512, 256),
		"/pics/bad.png":  []byte("not an image"),
	}})

	res := e.get(t, "/api/thumb?path=/pics/wide.png")
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK || res.Header.Get("Content-Type") != "image/jpeg" {
		t.Fatalf("thumb = %d %q", res.StatusCode, res.Header.Get("Content-Type"))
	}
	img, err := jpeg.Decode(res.Body)
	if err != nil {
		t.Fatalf("decode thumb: %v", err)
	}
	if b := img.Bounds(); b.Dx() != thumbMax || b.Dy() != thumbMax/2 {
		t.Errorf("thumb size = %dx%d", b.Dx(), b.Dy())
	}

	for _, p := range []string{"/pics/bad.png", "/pics/missing.png", "/notes.txt"} {
		res := e.get(t, "/api/thumb?path="+p)
		readBody(t, res)
		if res.StatusCode != http.StatusNotFound {
			t.Errorf("%s = %d, want 404", p, res.StatusCode)
		}
	}
}

func TestMakeThumbKeepsSmallImages(t *testing.T) {
	b, err := makeThumb(encodePNG(t, 40, 10), thumbMax)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != 40 || cfg.Height != 10 {
		t.Errorf("size = %dx%d", cfg.Width, cfg.Height)
	}
}

func TestRecover(t *testing.T) {
	e := newTestEnv(t, ftptest.Script{})

	rec := httptest.NewRecorder()
	e.srv.withRecover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("panic status = %d", rec.Code)
	}

	defer func() {
		if v := recover(); v != http.ErrAbortHandler {
			t.Errorf("recovered %v, want ErrAbortHandler", v)
		}
	}()
	e.srv.withRecover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

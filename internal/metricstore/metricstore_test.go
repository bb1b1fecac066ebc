package metricstore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNormalizeBranch(t *testing.T) {
	cases := []struct {
		branch, build, want string
	}{
		{"release_perf12", "release_perf12", "release"},
		{"release_perf12", "other", "release_perf12"},
		{"develop", "develop", "develop"},
		{"feature_perf", "feature_perf", "feature_perf"},
		{"a_perf1_perf2", "a_perf1_perf2", "a_perf1"},
	}
	for _, c := range cases {
		if got := NormalizeBranch(c.branch, c.build); got != c.want {
			t.Fatalf("NormalizeBranch(%q, %q) = %q, want %q", c.branch, c.build, got, c.want)
		}
	}
}

func TestResolveName(t *testing.T) {
	httpDoc := Document{MetricType: HTTPMetricType, Name: "GET /a", NameWithTest: "suite # GET /a"}
	if got := ResolveName(httpDoc); got != "suite # GET /a" {
		t.Fatalf("http metric must use name_with_test, got %q", got)
	}
	jsDoc := Document{MetricType: "js_metric", Name: "render", NameWithTest: "ignored"}
	if got := ResolveName(jsDoc); got != "render" {
		t.Fatalf("other metrics must use name, got %q", got)
	}
}

func TestExclusionsApply(t *testing.T) {
	eq, err := ParseExclusion("equals", "tc by us list - treeView # basic_load_cat")
	if err != nil {
		t.Fatalf("parse equals: %v", err)
	}
	prefix, err := ParseExclusion("PREFIX", "notifications")
	if err != nil {
		t.Fatalf("parse prefix: %v", err)
	}
	if _, err := ParseExclusion("regex", "x"); err == nil {
		t.Fatal("unknown match must fail")
	}

	records := []Record{
		{Metric: "tc by us list - treeView # basic_load_cat"},
		{Metric: "notifications # poll"},
		{Metric: "board # load"},
		{Metric: "tc by us list - treeView # basic_load_cat_2"},
	}
	kept := Exclusions{eq, prefix}.Apply(records)
	if len(kept) != 2 || kept[0].Metric != "board # load" || kept[1].Metric != "tc by us list - treeView # basic_load_cat_2" {
		t.Fatalf("unexpected records after exclusion: %+v", kept)
	}

	if got := Exclusions(nil).Apply(records); len(got) != len(records) {
		t.Fatal("empty exclusions keep every record")
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	for _, raw := range []string{"2024-03-01T10:30:00Z", "2024-03-01T10:30:00", "2024-03-01 10:30:00", "1709289000000"} {
		got, err := ParseTimestamp(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if !got.Equal(want) {
			t.Fatalf("parse %q = %s, want %s", raw, got, want)
		}
	}
	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Fatal("garbage must not parse")
	}
}

func elasticServer(t *testing.T, status int, body string, captured *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/performance_tests_run_reports/_search") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if captured != nil {
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, captured)
			if r.URL.Query().Get("size") != "100" {
				t.Errorf("size cap not sent: %s", r.URL.RawQuery)
			}
		}
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

func newTestElastic(t *testing.T, url string) *Elastic {
	t.Helper()
	src, err := NewElastic(ElasticOptions{
		Addresses:    []string{url},
		Index:        "performance_tests_run_reports",
		MaxDocuments: 100,
		Timeout:      time.Second,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new elastic: %v", err)
	}
	return src
}

func TestElasticFetchSuccess(t *testing.T) {
	body := `{"hits":{"total":{"value":2},"hits":[
		{"_source":{"branch":"release_perf3","build":"release_perf3","metric_type":"http_metric","name":"GET /a","name_with_test":"suite # GET /a","datetime":"2024-03-01T10:00:00","median":120.5}},
		{"_source":{"branch":"develop","build":"42","metric_type":"js_metric","name":"render","datetime":1709287200000,"median":8}}
	]}}`
	var captured map[string]any
	srv := elasticServer(t, http.StatusOK, body, &captured)
	defer srv.Close()

	records, err := newTestElastic(t, srv.URL).Fetch(context.Background(), 20, Filter{MetricType: HTTPMetricType})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Branch != "release" || records[0].Metric != "suite # GET /a" || records[0].Value != 120.5 {
		t.Fatalf("unexpected first record: %+v", records[0])
	}
	if records[1].Branch != "develop" || records[1].Metric != "render" {
		t.Fatalf("unexpected second record: %+v", records[1])
	}
	if !records[0].Timestamp.Equal(records[1].Timestamp) {
		t.Fatalf("both timestamps encode the same instant: %s vs %s", records[0].Timestamp, records[1].Timestamp)
	}

	encoded, _ := json.Marshal(captured)
	if !strings.Contains(string(encoded), `"now-20d/d"`) || !strings.Contains(string(encoded), `"http_metric"`) {
		t.Fatalf("query must carry the window and type filter: %s", encoded)
	}
	if !strings.Contains(string(encoded), `"match":{"metric_type":"http_metric"}`) {
		t.Fatalf("type filter must be a match clause: %s", encoded)
	}
}

func TestElasticFetchErrorIsStoreUnavailable(t *testing.T) {
	srv := elasticServer(t, http.StatusInternalServerError, `{"error":{"type":"search_phase_execution_exception","reason":"all shards failed"}}`, nil)
	defer srv.Close()

	_, err := newTestElastic(t, srv.URL).Fetch(context.Background(), 20, Filter{})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "all shards failed") {
		t.Fatalf("error should carry the reason: %v", err)
	}
}

func TestElasticFetchConnectionRefused(t *testing.T) {
	srv := elasticServer(t, http.StatusOK, `{}`, nil)
	url := srv.URL
	srv.Close()

	_, err := newTestElastic(t, url).Fetch(context.Background(), 20, Filter{})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestFetchRejectsNonPositiveWindow(t *testing.T) {
	src := newTestElastic(t, "http://127.0.0.1:1")
	if _, err := src.Fetch(context.Background(), 0, Filter{}); err == nil {
		t.Fatal("days=0 must be rejected")
	}
}

const influxCSV = "#datatype,string,long,dateTime:RFC3339,double,string,string,string,string,string,string,string\n" +
	"#group,false,false,false,false,true,true,true,true,true,true,true\n" +
	"#default,_result,,,,,,,,,,\n" +
	",result,table,_time,_value,_field,_measurement,branch,build,metric_type,name,name_with_test\n" +
	",,0,2024-03-01T10:00:00Z,120.5,median,run_reports,release_perf3,release_perf3,http_metric,GET /a,suite - GET /a\n" +
	",,0,2024-03-02T10:00:00Z,99,median,run_reports,develop,17,js_metric,render,\n"

func TestInfluxFetch(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/query" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var payload struct {
			Query string `json:"query"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		query = payload.Query
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		_, _ = w.Write([]byte(influxCSV))
	}))
	defer srv.Close()

	src, err := NewInflux(InfluxOptions{URL: srv.URL, Token: "t", Org: "perf", Bucket: "perf", MaxDocuments: 10}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new influx: %v", err)
	}
	defer src.Close()

	records, err := src.Fetch(context.Background(), 7, Filter{})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Branch != "release" || records[0].Metric != "suite - GET /a" || records[0].Value != 120.5 {
		t.Fatalf("unexpected first record: %+v", records[0])
	}
	if records[1].Branch != "develop" || records[1].Metric != "render" {
		t.Fatalf("unexpected second record: %+v", records[1])
	}
	if !strings.Contains(query, "range(start: -7d)") || !strings.Contains(query, "limit(n: 10)") {
		t.Fatalf("unexpected flux query: %s", query)
	}
}

func TestFluxQueryTypeFilter(t *testing.T) {
	q := fluxQuery(InfluxOptions{Bucket: "b", Measurement: "m", MaxDocuments: 5}, 3, Filter{MetricType: HTTPMetricType})
	if !strings.Contains(q, `r.metric_type == "http_metric"`) {
		t.Fatalf("type filter missing: %s", q)
	}
	if !strings.Contains(q, `r._measurement == "m"`) {
		t.Fatalf("measurement filter missing: %s", q)
	}
}

type fakeReader struct {
	since time.Time
	typ   string
	limit int
	docs  []Document
	err   error
}

func (f *fakeReader) ListDocumentsSince(ctx context.Context, since time.Time, metricType string, limit int) ([]Document, error) {
	f.since, f.typ, f.limit = since, metricType, limit
	return f.docs, f.err
}

func TestPostgresFetch(t *testing.T) {
	reader := &fakeReader{docs: []Document{{Branch: "b_perf1", Build: "b_perf1", Name: "x", Median: 3}}}
	src := NewPostgres(reader, 25, zerolog.Nop())
	src.now = func() time.Time { return time.Date(2024, 3, 20, 15, 0, 0, 0, time.UTC) }

	records, err := src.Fetch(context.Background(), 5, Filter{MetricType: "js_metric"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(records) != 1 || records[0].Branch != "b" {
		t.Fatalf("unexpected records: %+v", records)
	}
	if !reader.since.Equal(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)) || reader.typ != "js_metric" || reader.limit != 25 {
		t.Fatalf("unexpected query args: %s %q %d", reader.since, reader.typ, reader.limit)
	}

	reader.err = errors.New("connection reset")
	if _, err := src.Fetch(context.Background(), 5, Filter{}); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

// newestFirstReader returns at most limit documents, newest first, the way the
// measurements listing does.
type newestFirstReader struct {
	docs []Document
}

func (r *newestFirstReader) ListDocumentsSince(_ context.Context, _ time.Time, _ string, limit int) ([]Document, error) {
	out := make([]Document, 0, limit)
	for i := len(r.docs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.docs[i])
	}
	return out, nil
}

func TestPostgresCapKeepsNewestSamples(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	reader := &newestFirstReader{}
	for i := 0; i < 10; i++ {
		reader.docs = append(reader.docs, Document{Branch: "master", Build: "1", Name: "login", Datetime: base.Add(time.Duration(i) * time.Hour), Median: float64(i)})
	}
	src := NewPostgres(reader, 4, zerolog.Nop())
	src.now = func() time.Time { return base.AddDate(0, 0, 2) }

	records, err := src.Fetch(context.Background(), 5, Filter{})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("expected the cap of 4 records, got %d", len(records))
	}
	newest := base.Add(9 * time.Hour)
	var found bool
	for _, r := range records {
		if r.Timestamp.Before(base.Add(6 * time.Hour)) {
			t.Fatalf("cap kept an old sample: %s", r.Timestamp)
		}
		found = found || r.Timestamp.Equal(newest)
	}
	if !found {
		t.Fatalf("newest sample dropped: %+v", records)
	}
}

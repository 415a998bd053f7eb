package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/shaiso/orderpipe/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	objects map[string][]byte
}

func (f *fakeStore) Get(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	data, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeStore) Put(_ context.Context, bucket, key string, body io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.objects[bucket+"/"+key] = data
	return nil
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestFormatFromName(t *testing.T) {
	tests := []struct {
		name    string
		want    domain.SourceType
		wantErr bool
	}{
		{"orders.csv", domain.SourceTypeCSV, false},
		{"ORDERS.JSON", domain.SourceTypeJSON, false},
		{"dir/orders.yml", domain.SourceTypeYAML, false},
		{"orders.yaml", domain.SourceTypeYAML, false},
		{"orders.xml", "", true},
		{"orders", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FormatFromName(tt.name)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCSV(t *testing.T) {
	data := "\xEF\xBB\xBFOrderId,CustomerId,Amount,OrderDate\nO1,C1,10.5,2024-01-02\n\nO2,,abc,\n"
	records, err := Parse(domain.SourceTypeCSV, []byte(data))
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "O1", records[0].String("OrderId"))
	v, ok := records[0].Value("Amount")
	assert.True(t, ok)
	assert.Equal(t, "10.5", v)
	assert.Nil(t, records[0].Raw)

	assert.Equal(t, "", records[1].String("CustomerId"))
}

func TestParseJSON_ArrayAndObject(t *testing.T) {
	records, err := Parse(domain.SourceTypeJSON, []byte(`[{"orderId":"O1","amount":12.50},{"OrderId":"O2","Amount":null}]`))
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "O1", records[0].String("OrderId"))
	v, ok := records[0].Value("Amount")
	assert.True(t, ok)
	assert.Equal(t, "12.50", v, "numbers keep their source text")
	require.NotNil(t, records[0].Raw)
	assert.Equal(t, `{"orderId":"O1","amount":12.50}`, *records[0].Raw)

	_, ok = records[1].Value("Amount")
	assert.False(t, ok, "null amount is treated as absent")

	single, err := Parse(domain.SourceTypeJSON, []byte(`{"OrderId":"O3"}`))
	require.NoError(t, err)
	require.Len(t, single, 1)
	assert.Equal(t, "O3", single[0].String("OrderId"))
}

func TestParseJSON_Invalid(t *testing.T) {
	for _, doc := range []string{``, `"text"`, `[1,2]`, `{"broken"`} {
		_, err := Parse(domain.SourceTypeJSON, []byte(doc))
		assert.Error(t, err, doc)
	}
}

func TestParseYAML(t *testing.T) {
	doc := `
- OrderId: O1
  CustomerId: C1
  Amount: 75
- orderid: O2
  amount: "199.99"
`
	records, err := Parse(domain.SourceTypeYAML, []byte(doc))
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "O1", records[0].String("OrderId"))
	v, _ := records[0].Value("Amount")
	assert.Equal(t, "75", v)
	require.NotNil(t, records[0].Raw)
	assert.JSONEq(t, `{"OrderId":"O1","CustomerId":"C1","Amount":75}`, *records[0].Raw)

	assert.Equal(t, "O2", records[1].String("OrderId"), "case-insensitive lookup")
}

func TestRecord_LookupPriority(t *testing.T) {
	rec := Record{Fields: map[string]any{
		"OrderId": "",
		"orderId": "camel",
		"ORDERID": "upper",
	}}
	assert.Equal(t, "camel", rec.String("OrderId"), "first non-empty candidate wins")

	rec = Record{Fields: map[string]any{"Amount": "0", "amount": "5"}}
	v, ok := rec.Value("Amount")
	assert.True(t, ok)
	assert.Equal(t, "0", v, "first present amount wins even if zero")
}

func TestLoader_LocalRelativeAndAbsolute(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "orders.csv", "OrderId,Amount\nO1,1\nO2,2\n")

	loader := NewLoader(Config{BaseDir: dir})

	ds, err := loader.Load(context.Background(), "orders.csv")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceTypeCSV, ds.Format)
	assert.Len(t, ds.Records, 2)

	ds, err = loader.Load(context.Background(), filepath.Join(dir, "orders.csv"))
	require.NoError(t, err)
	assert.Len(t, ds.Records, 2)
}

func TestLoader_Errors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.json", "{not json")
	writeFile(t, dir, "orders.txt", "x")
	loader := NewLoader(Config{BaseDir: dir})

	for _, ref := range []string{"", "missing.csv", "bad.json", "orders.txt", "s3://bucket/orders.csv"} {
		_, err := loader.Load(context.Background(), ref)
		assert.ErrorIs(t, err, ErrSourceRead, ref)
	}
}

func TestLoader_MaxBytes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "orders.csv", "OrderId\nO1\nO2\nO3\n")
	loader := NewLoader(Config{BaseDir: dir, MaxBytes: 8})

	_, err := loader.Load(context.Background(), "orders.csv")
	assert.ErrorIs(t, err, ErrSourceRead)
}

func TestLoader_S3(t *testing.T) {
	store := &fakeStore{objects: map[string][]byte{
		"landing/in/orders.json": []byte(`[{"OrderId":"O1"}]`),
	}}
	loader := NewLoader(Config{Store: store})

	ds, err := loader.Load(context.Background(), "s3://landing/in/orders.json")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceTypeJSON, ds.Format)
	require.Len(t, ds.Records, 1)

	_, err = loader.Load(context.Background(), "s3://landing/in/missing.json")
	assert.ErrorIs(t, err, ErrSourceRead)
}

func TestParseS3Ref(t *testing.T) {
	bucket, key, err := ParseS3Ref("s3://b/a/b.csv")
	require.NoError(t, err)
	assert.Equal(t, "b", bucket)
	assert.Equal(t, "a/b.csv", key)

	for _, bad := range []string{"s3://", "s3://bucket", "s3:///key", "file.csv"} {
		_, _, err := ParseS3Ref(bad)
		assert.Error(t, err, bad)
	}
	assert.Equal(t, "s3://b/k.csv", S3Ref("b", "k.csv"))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "orders.csv", DisplayName("/data/landing/orders.csv"))
	assert.Equal(t, "bucket/orders.csv", DisplayName("s3://bucket/in/orders.csv"))
}

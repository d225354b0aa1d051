package gcs

import "testing"

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri     string
		bucket  string
		object  string
		wantErr bool
	}{
		{"gs://reports/recurring-runs/2026/01/10/j1.json", "reports", "recurring-runs/2026/01/10/j1.json", false},
		{"gs://reports/j1.json", "reports", "j1.json", false},
		{"s3://reports/j1.json", "", "", true},
		{"gs://reports", "", "", true},
		{"gs://reports/", "", "", true},
		{"gs:///j1.json", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, object, err := ParseURI(tt.uri)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseURI() error = %v, wantErr %v", err, tt.wantErr)
			}
			if bucket != tt.bucket || object != tt.object {
				t.Errorf("ParseURI() = %q, %q; want %q, %q", bucket, object, tt.bucket, tt.object)
			}
		})
	}
}

func TestFormatURIAndBaseName(t *testing.T) {
	uri := FormatURI("reports", "recurring-runs/2026/01/10/j1.json")
	if uri != "gs://reports/recurring-runs/2026/01/10/j1.json" {
		t.Errorf("FormatURI() = %q", uri)
	}
	if got := BaseName(uri); got != "j1.json" {
		t.Errorf("BaseName() = %q, want j1.json", got)
	}
	if got := BaseName("gs://reports"); got != "reports" {
		t.Errorf("BaseName(bucket only) = %q", got)
	}
}

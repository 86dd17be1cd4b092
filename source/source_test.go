package source

import "testing"

func TestParseTargetURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    Query
		wantErr bool
	}{
		{
			name: "advertiser id param",
			url:  "https://adstransparency.google.com/?advertiser_id=AR123&region=US",
			want: Query{AdvertiserID: "AR123", Region: "2840"},
		},
		{
			name: "advertiser path",
			url:  "https://adstransparency.google.com/advertiser/AR999?region=GB",
			want: Query{AdvertiserID: "AR999", Region: "2826"},
		},
		{
			name: "domain search",
			url:  "https://adstransparency.google.com/?domain=shop.example&region=anywhere",
			want: Query{Text: "shop.example"},
		},
		{
			name: "text search unmapped region passthrough",
			url:  "https://adstransparency.google.com/?text=widgets&region=BR",
			want: Query{Text: "widgets", Region: "BR"},
		},
		{
			name:    "wrong host",
			url:     "https://example.com/?domain=shop.example",
			wantErr: true,
		},
		{
			name:    "no extractable query",
			url:     "https://adstransparency.google.com/",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTargetURL(tt.url)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if *got != tt.want {
				t.Errorf("got %+v, want %+v", *got, tt.want)
			}
		})
	}
}

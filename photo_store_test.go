package pairsync

import (
	"testing"
)

func TestS3PhotoStore_ObjectURL(t *testing.T) {
	tests := []struct {
		name   string
		config S3PhotoConfig
		key    string
		want   string
	}{
		{
			"standard",
			S3PhotoConfig{Bucket: "photos", Region: "eu-west-1"},
			"pairs/p1/missions/m1/op1.jpg",
			"https://photos.s3.eu-west-1.amazonaws.com/pairs/p1/missions/m1/op1.jpg",
		},
		{
			"cdn",
			S3PhotoConfig{Bucket: "photos", PublicBaseURL: "https://cdn.example.com/"},
			"k.jpg",
			"https://cdn.example.com/k.jpg",
		},
		{
			"endpoint path style",
			S3PhotoConfig{Bucket: "photos", Endpoint: "http://minio:9000"},
			"k.jpg",
			"http://minio:9000/photos/k.jpg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &S3PhotoStore{config: tt.config}
			if got := store.objectURL(tt.key); got != tt.want {
				t.Errorf("objectURL = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPhotoKey(t *testing.T) {
	key := PhotoKey("pair-1", "m-1", "op-1")
	if key != "pairs/pair-1/missions/m-1/op-1.jpg" {
		t.Errorf("PhotoKey = %q", key)
	}
}

func TestNewS3PhotoStore_Validation(t *testing.T) {
	if _, err := NewS3PhotoStore(S3PhotoConfig{}); err == nil {
		t.Error("missing bucket should fail")
	}
}

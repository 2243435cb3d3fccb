// store/gcs.go
// Copyright(c) 2021-2026 Air Sports Live Tracking contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package store

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// ArchiveBucket reads finished-track exports from a Google Cloud
// Storage bucket and hands out signed download URLs for them. Without
// credentials it can still read public buckets; signing then fails.
type ArchiveBucket struct {
	httpClient          *http.Client
	bucket              string
	serviceAccountEmail string
	privateKey          *rsa.PrivateKey
	ctx                 context.Context
}

type ArchiveBucketConfig struct {
	Context     context.Context // defaults to context.Background()
	Credentials []byte          // service account JSON; nil for an unauthenticated client
	Timeout     time.Duration   // HTTP timeout; defaults to 30 seconds
}

func MakeArchiveBucket(bucket string, config ArchiveBucketConfig) (*ArchiveBucket, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket name cannot be empty")
	}

	ctx := config.Context
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	if config.Credentials == nil {
		return &ArchiveBucket{
			httpClient: &http.Client{Timeout: timeout},
			bucket:     bucket,
			ctx:        ctx,
		}, nil
	}

	jwtConfig, err := google.JWTConfigFromJSON(config.Credentials,
		"https://www.googleapis.com/auth/devstorage.read_only")
	if err != nil {
		return nil, fmt.Errorf("failed to create JWT config: %w", err)
	}

	var rsaKey *rsa.PrivateKey
	if len(jwtConfig.PrivateKey) > 0 {
		block, _ := pem.Decode(jwtConfig.PrivateKey)
		if block != nil {
			parsedKey, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				if pkcs1, err2 := x509.ParsePKCS1PrivateKey(block.Bytes); err2 == nil {
					parsedKey = pkcs1
				} else {
					return nil, fmt.Errorf("failed to parse private key: %w (PKCS8: %v)", err2, err)
				}
			}
			if key, ok := parsedKey.(*rsa.PrivateKey); ok {
				rsaKey = key
			}
		}
	}

	httpClient := oauth2.NewClient(ctx, jwtConfig.TokenSource(ctx))
	httpClient.Timeout = timeout

	return &ArchiveBucket{
		httpClient:          httpClient,
		bucket:              bucket,
		serviceAccountEmail: jwtConfig.Email,
		privateKey:          rsaKey,
		ctx:                 ctx,
	}, nil
}

type bucketObject struct {
	Name string `json:"name"`
	Size string `json:"size"`
}

type bucketListResponse struct {
	Items         []bucketObject `json:"items"`
	NextPageToken string         `json:"nextPageToken"`
}

// List returns object names and sizes, optionally restricted to a
// prefix (e.g. one event's exports).
func (b *ArchiveBucket) List(prefix string) (map[string]int64, error) {
	objects := make(map[string]int64)
	pageToken := ""

	for {
		apiURL := fmt.Sprintf("https://storage.googleapis.com/storage/v1/b/%s/o?projection=noAcl", b.bucket)
		if prefix != "" {
			apiURL += "&prefix=" + url.QueryEscape(prefix)
		}
		if pageToken != "" {
			apiURL += "&pageToken=" + url.QueryEscape(pageToken)
		}

		req, err := http.NewRequestWithContext(b.ctx, "GET", apiURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := b.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("bucket %s: list returned status %d", b.bucket, resp.StatusCode)
		}

		var list bucketListResponse
		if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
			resp.Body.Close()
			return nil, err
		}
		resp.Body.Close()

		for _, obj := range list.Items {
			size, err := strconv.ParseInt(obj.Size, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("object %s: bad size: %w", obj.Name, err)
			}
			objects[obj.Name] = size
		}

		if list.NextPageToken == "" {
			return objects, nil
		}
		pageToken = list.NextPageToken
	}
}

// GetReader streams an object's contents; the caller closes it.
func (b *ArchiveBucket) GetReader(objectName string) (io.ReadCloser, error) {
	if objectName == "" {
		return nil, fmt.Errorf("object name cannot be empty")
	}

	apiURL := fmt.Sprintf("https://storage.googleapis.com/storage/v1/b/%s/o/%s?alt=media",
		b.bucket, url.QueryEscape(objectName))

	req, err := http.NewRequestWithContext(b.ctx, "GET", apiURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("bucket %s: download of %s returned status %d", b.bucket, objectName,
			resp.StatusCode)
	}
	return resp.Body, nil
}

// SignedURL returns a V4 signed download URL for an exported track
// archive; the front end hands these to users after an event.
func (b *ArchiveBucket) SignedURL(objectName string, lifetime time.Duration) (string, error) {
	if objectName == "" {
		return "", fmt.Errorf("object name cannot be empty")
	}
	if b.privateKey == nil {
		return "", fmt.Errorf("no private key is available")
	}

	// V4 signing allows at most 7 days.
	if max := 7 * 24 * time.Hour; lifetime > max {
		lifetime = max
	}

	now := time.Now().UTC()
	datestamp := now.Format("20060102")
	timestamp := now.Format("20060102T150405Z")

	credentialScope := fmt.Sprintf("%s/auto/storage/goog4_request", datestamp)
	canonicalURI := fmt.Sprintf("/%s/%s", b.bucket, url.PathEscape(objectName))

	queryParams := url.Values{}
	queryParams.Set("X-Goog-Algorithm", "GOOG4-RSA-SHA256")
	queryParams.Set("X-Goog-Credential", fmt.Sprintf("%s/%s", b.serviceAccountEmail, credentialScope))
	queryParams.Set("X-Goog-Date", timestamp)
	queryParams.Set("X-Goog-Expires", strconv.FormatInt(int64(lifetime.Seconds()), 10))
	queryParams.Set("X-Goog-SignedHeaders", "host")

	canonicalRequest := fmt.Sprintf("GET\n%s\n%s\nhost:storage.googleapis.com\n\nhost\nUNSIGNED-PAYLOAD",
		canonicalURI, queryParams.Encode())

	hasher := sha256.New()
	hasher.Write([]byte(canonicalRequest))
	stringToSign := fmt.Sprintf("GOOG4-RSA-SHA256\n%s\n%s\n%x",
		timestamp, credentialScope, hasher.Sum(nil))

	hasher = sha256.New()
	hasher.Write([]byte(stringToSign))
	signature, err := rsa.SignPKCS1v15(rand.Reader, b.privateKey, crypto.SHA256, hasher.Sum(nil))
	if err != nil {
		return "", fmt.Errorf("failed to sign URL: %w", err)
	}
	queryParams.Set("X-Goog-Signature", fmt.Sprintf("%x", signature))

	return fmt.Sprintf("https://storage.googleapis.com%s?%s", canonicalURI, queryParams.Encode()), nil
}

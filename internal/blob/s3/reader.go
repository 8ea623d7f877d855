package s3blob

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Index answers whether an archive object is already present.
type Index struct {
	c *Client
}

// NewIndex creates an Index.
func NewIndex(c *Client) *Index {
	return &Index{c: c}
}

// Exists issues a HeadObject for path.
func (i *Index) Exists(ctx context.Context, path string) (bool, error) {
	key := i.c.Key(path)
	_, err := i.c.S3().HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(i.c.Bucket()),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("s3blob: exists %s: %w", key, err)
	}
	return true, nil
}

// isNotFound matches NoSuchKey, the bare 404 HeadObject returns, and the
// generic 404 some S3-compatible providers send instead.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	type httpResponseError interface {
		HTTPStatusCode() int
	}
	var httpErr httpResponseError
	return errors.As(err, &httpErr) && httpErr.HTTPStatusCode() == 404
}

package storage

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
)

// BlobStorage reads source images from and writes exports to a blob account
type BlobStorage interface {
	GetBlob(ctx context.Context, container, name string, maxBytes int64) (*FetchedObject, error)
	PutBlob(ctx context.Context, container, name, contentType string, data []byte) (string, error)
}

type azureStorage struct {
	client *azblob.Client
}

func NewAzureStorage(accountName string, accountKey string) (BlobStorage, error) {
	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("invalid azure credentials: %w", err)
	}

	client, err := azblob.NewClientWithSharedKeyCredential(
		fmt.Sprintf("https://%s.blob.core.windows.net/", accountName),
		credential,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create azure client: %w", err)
	}

	return &azureStorage{client: client}, nil
}

func (s *azureStorage) GetBlob(ctx context.Context, container, name string, maxBytes int64) (*FetchedObject, error) {
	resp, err := s.client.DownloadStream(ctx, container, name, nil)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if maxBytes > 0 && resp.ContentLength != nil && *resp.ContentLength > maxBytes {
		return nil, ErrTooLarge
	}

	data, err := readLimited(resp.Body, maxBytes)
	if err != nil {
		return nil, err
	}

	obj := &FetchedObject{Data: data}
	if resp.ContentType != nil {
		obj.ContentType = *resp.ContentType
	}
	return obj, nil
}

func (s *azureStorage) PutBlob(ctx context.Context, container, name, contentType string, data []byte) (string, error) {
	_, err := s.client.UploadBuffer(ctx, container, name, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return "", fmt.Errorf("upload failed: %w", err)
	}
	return s.client.URL() + container + "/" + name, nil
}

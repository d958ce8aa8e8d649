package receipt

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// mockS3 is an in-memory S3API
type mockS3 struct {
	objects      map[string][]byte
	contentTypes map[string]string
	putErr       error
	getErr       error
	deleteErr    error
}

func newMockS3() *mockS3 {
	return &mockS3{objects: map[string][]byte{}, contentTypes: map[string]string{}}
}

func (m *mockS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(params.Bucket) + "/" + aws.ToString(params.Key)
	m.objects[key] = data
	m.contentTypes[key] = aws.ToString(params.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.objects[aws.ToString(params.Bucket)+"/"+aws.ToString(params.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if m.deleteErr != nil {
		return nil, m.deleteErr
	}
	delete(m.objects, aws.ToString(params.Bucket)+"/"+aws.ToString(params.Key))
	return &s3.DeleteObjectOutput{}, nil
}

var _ = Describe("S3Storage", func() {
	var (
		ctx     context.Context
		client  *mockS3
		storage *S3Storage
	)

	BeforeEach(func() {
		ctx = context.Background()
		client = newMockS3()
		storage = NewS3StorageWithClient(client, "receipts-bucket", "/uploads/", "ap-southeast-1")
	})

	Describe("Save", func() {
		It("uploads under the prefix with the content type", func() {
			key, err := storage.Save(ctx, "rcpt-1_receipt.jpg", []byte("jpeg"), "image/jpeg")
			Expect(err).NotTo(HaveOccurred())
			Expect(key).To(Equal("uploads/rcpt-1_receipt.jpg"))
			Expect(client.objects).To(HaveKeyWithValue("receipts-bucket/uploads/rcpt-1_receipt.jpg", []byte("jpeg")))
			Expect(client.contentTypes["receipts-bucket/uploads/rcpt-1_receipt.jpg"]).To(Equal("image/jpeg"))
		})

		It("wraps upload errors", func() {
			client.putErr = errors.New("AccessDenied")
			_, err := storage.Save(ctx, "a.jpg", []byte("x"), "")
			Expect(err).To(MatchError(ContainSubstring("uploading uploads/a.jpg")))
			Expect(err).To(MatchError(ContainSubstring("AccessDenied")))
		})
	})

	Describe("Get", func() {
		It("accepts a key returned by Save", func() {
			key, err := storage.Save(ctx, "a.jpg", []byte("data"), "")
			Expect(err).NotTo(HaveOccurred())

			data, err := storage.Get(ctx, key)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("data"))
		})

		It("wraps download errors", func() {
			_, err := storage.Get(ctx, "missing.jpg")
			Expect(err).To(MatchError(ContainSubstring("downloading missing.jpg")))
		})
	})

	Describe("Delete", func() {
		It("removes the object", func() {
			key, err := storage.Save(ctx, "a.jpg", []byte("data"), "")
			Expect(err).NotTo(HaveOccurred())
			Expect(storage.Delete(ctx, key)).To(Succeed())
			Expect(client.objects).To(BeEmpty())
		})
	})

	Describe("URL", func() {
		It("uses the regional virtual-hosted endpoint", func() {
			Expect(storage.URL("uploads/a.jpg")).To(Equal("https://receipts-bucket.s3.ap-southeast-1.amazonaws.com/uploads/a.jpg"))
		})

		It("falls back to the global endpoint without a region", func() {
			global := NewS3StorageWithClient(client, "receipts-bucket", "", "")
			Expect(global.URL("a.jpg")).To(Equal("https://receipts-bucket.s3.amazonaws.com/a.jpg"))
		})
	})
})

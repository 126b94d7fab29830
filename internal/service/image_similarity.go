package service

import (
	"DealerWatch/internal/utils/httpclient"
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/sirupsen/logrus"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	templateSize  = 64
	maxImagePairs = 3
	maxImageBytes = 10 << 20
)

// ImageSimilarity 图片模板匹配相似度（归一化互相关），作为重新上架匹配的附加信号
type ImageSimilarity struct {
	client *httpclient.Client
	cache  *TTLCache[float64]
	logger *logrus.Logger
}

func NewImageSimilarity(client *httpclient.Client, cache *TTLCache[float64], logger *logrus.Logger) *ImageSimilarity {
	return &ImageSimilarity{client: client.WithMaxBody(maxImageBytes), cache: cache, logger: logger}
}

// Score 按位置两两比较前几张图片，取最大值；一对都比不了时 ok=false
func (s *ImageSimilarity) Score(ctx context.Context, a, b []string) (float64, bool) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n > maxImagePairs {
		n = maxImagePairs
	}

	best, ok := 0.0, false
	for i := 0; i < n; i++ {
		score, err := s.pair(ctx, a[i], b[i])
		if err != nil {
			s.logger.WithError(err).WithField("image", a[i]).Debug("图片对比失败，跳过")
			continue
		}
		ok = true
		if score > best {
			best = score
		}
	}
	return best, ok
}

func (s *ImageSimilarity) pair(ctx context.Context, urlA, urlB string) (float64, error) {
	if urlA == urlB {
		return 1, nil
	}
	key := SetKey([]string{urlA, urlB})
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			return v, nil
		}
	}
	ga, err := s.load(ctx, urlA)
	if err != nil {
		return 0, err
	}
	gb, err := s.load(ctx, urlB)
	if err != nil {
		return 0, err
	}
	score := math.Max(0, TemplateMatch(ga, gb))
	if s.cache != nil {
		s.cache.Add(key, score)
	}
	return score, nil
}

func (s *ImageSimilarity) load(ctx context.Context, u string) (*image.Gray, error) {
	body, err := s.client.GetBytes(ctx, u)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("图片解码失败: %w", err)
	}
	return GrayThumbnail(img), nil
}

// GrayThumbnail 缩放为固定尺寸灰度图
func GrayThumbnail(img image.Image) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, templateSize, templateSize))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// TemplateMatch 同尺寸灰度图的归一化互相关，范围 [-1, 1]；任一图为常量时返回 0
func TemplateMatch(a, b *image.Gray) float64 {
	if a.Bounds().Size() != b.Bounds().Size() {
		return 0
	}
	n := float64(len(a.Pix))
	if n == 0 {
		return 0
	}
	var sumA, sumB float64
	for i := range a.Pix {
		sumA += float64(a.Pix[i])
		sumB += float64(b.Pix[i])
	}
	meanA, meanB := sumA/n, sumB/n

	var num, varA, varB float64
	for i := range a.Pix {
		da := float64(a.Pix[i]) - meanA
		db := float64(b.Pix[i]) - meanB
		num += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return num / math.Sqrt(varA*varB)
}

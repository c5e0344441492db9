package common_test

import (
	"bytes"
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/penny-vault/pv-tracker/common"
)

var _ = Describe("TieredCache", func() {
	var (
		cache *common.TieredCache
		now   time.Time
		ctx   context.Context
	)

	BeforeEach(func() {
		var err error
		cache, err = common.NewTieredCache(2, time.Minute, nil)
		Expect(err).To(BeNil())
		now = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
		cache.SetClock(func() time.Time { return now })
		ctx = context.Background()
	})

	It("returns what was stored", func() {
		body := bytes.Repeat([]byte(`{"symbol":"AAPL","close":"184.25"}`), 20)
		cache.Set(ctx, "quote", body)

		val, ok := cache.Get(ctx, "quote")
		Expect(ok).To(BeTrue())
		Expect(val).To(Equal(body))
	})

	It("expires entries after the ttl", func() {
		cache.Set(ctx, "quote", []byte("cached"))

		now = now.Add(59 * time.Second)
		_, ok := cache.Get(ctx, "quote")
		Expect(ok).To(BeTrue())

		now = now.Add(2 * time.Second)
		_, ok = cache.Get(ctx, "quote")
		Expect(ok).To(BeFalse())
		Expect(cache.Len()).To(Equal(0))
	})

	It("evicts the least recently used entry", func() {
		cache.Set(ctx, "a", []byte("1"))
		cache.Set(ctx, "b", []byte("2"))
		cache.Set(ctx, "c", []byte("3"))

		Expect(cache.Len()).To(Equal(2))
		_, ok := cache.Get(ctx, "a")
		Expect(ok).To(BeFalse())
	})

	It("never expires with a zero ttl", func() {
		forever, err := common.NewTieredCache(0, 0, nil)
		Expect(err).To(BeNil())
		forever.SetClock(func() time.Time { return now })
		forever.Set(ctx, "k", []byte("v"))

		now = now.AddDate(1, 0, 0)
		val, ok := forever.Get(ctx, "k")
		Expect(ok).To(BeTrue())
		Expect(string(val)).To(Equal("v"))
	})
})

var _ = Describe("CacheKey", func() {
	It("is deterministic and separates parts", func() {
		Expect(common.CacheKey("a", "b")).To(Equal(common.CacheKey("a", "b")))
		Expect(common.CacheKey("ab", "c")).ToNot(Equal(common.CacheKey("a", "bc")))
		Expect(common.CacheKey("x")).To(HaveLen(64))
	})
})

var _ = Describe("Dates", func() {
	It("truncates to the calendar day", func() {
		t := time.Date(2024, 3, 15, 23, 59, 0, 0, time.UTC)
		Expect(common.Date(t)).To(Equal(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)))
		Expect(common.SameDay(t, time.Date(2024, 3, 15, 1, 0, 0, 0, time.UTC))).To(BeTrue())
	})

	It("parses ISO dates", func() {
		d, err := common.ParseDate("2024-01-02")
		Expect(err).To(BeNil())
		Expect(d).To(Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)))

		_, err = common.ParseDate("01/02/2024")
		Expect(err).ToNot(BeNil())
	})
})

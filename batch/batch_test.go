package batch_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/penny-vault/pv-tracker/batch"
)

func ident(s string) string { return s }

var _ = Describe("Run", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("isolates failures and keeps processing", func() {
		seen := make([]string, 0)
		items := []string{"AAPL", "BAD", "MSFT", "PANIC", "XAU"}
		summary := batch.Run(ctx, batch.New(0), items, ident, func(ctx context.Context, item string) error {
			seen = append(seen, item)
			switch item {
			case "BAD":
				return errors.New("symbol not found")
			case "PANIC":
				panic("boom")
			}
			return nil
		})

		Expect(seen).To(Equal(items))
		Expect(summary.Total).To(Equal(5))
		Expect(summary.Success).To(Equal(3))
		Expect(summary.Failed).To(Equal(2))
		Expect(summary.Errors).To(HaveLen(2))
		Expect(summary.Errors[0]).To(Equal(batch.ItemError{Item: "BAD", Message: "symbol not found"}))
		Expect(summary.Errors[1].Item).To(Equal("PANIC"))
		Expect(summary.Errors[1].Message).To(ContainSubstring("boom"))
	})

	It("waits between items but not before the first", func() {
		delay := 25 * time.Millisecond
		starts := make([]time.Time, 0, 3)
		begin := time.Now()
		batch.Run(ctx, batch.New(delay), []string{"a", "b", "c"}, ident, func(ctx context.Context, item string) error {
			starts = append(starts, time.Now())
			return nil
		})

		Expect(starts[0].Sub(begin)).To(BeNumerically("<", delay))
		Expect(starts[1].Sub(starts[0])).To(BeNumerically(">=", delay-5*time.Millisecond))
		Expect(starts[2].Sub(starts[1])).To(BeNumerically(">=", delay-5*time.Millisecond))
	})

	It("marks remaining items failed when cancelled", func() {
		ctx, cancel := context.WithCancel(ctx)
		summary := batch.Run(ctx, batch.New(time.Millisecond), []string{"a", "b", "c", "d"}, ident, func(ctx context.Context, item string) error {
			if item == "b" {
				cancel()
			}
			return nil
		})

		Expect(summary.Total).To(Equal(4))
		Expect(summary.Success).To(Equal(2))
		Expect(summary.Failed).To(Equal(2))
		Expect(summary.Errors[0].Item).To(Equal("c"))
		Expect(summary.Errors[0].Message).To(Equal(context.Canceled.Error()))
	})

	It("returns an empty summary for no items", func() {
		summary := batch.Run(ctx, batch.New(time.Second), []int{}, func(i int) string { return fmt.Sprint(i) }, func(ctx context.Context, i int) error {
			return nil
		})
		Expect(summary.Total).To(Equal(0))
		Expect(summary.Errors).To(BeEmpty())
	})

	DescribeTable("summary invariant",
		func(n, failEvery int) {
			items := make([]int, n)
			for i := range items {
				items[i] = i
			}
			summary := batch.Run(ctx, batch.New(0), items, func(i int) string { return fmt.Sprint(i) }, func(ctx context.Context, i int) error {
				if failEvery > 0 && i%failEvery == 0 {
					return fmt.Errorf("item %d failed", i)
				}
				return nil
			})
			Expect(summary.Total).To(Equal(n))
			Expect(summary.Total).To(Equal(summary.Success + summary.Failed))
			Expect(summary.Errors).To(HaveLen(summary.Failed))
		},
		Entry("all succeed", 10, 0),
		Entry("all fail", 10, 1),
		Entry("every third fails", 31, 3),
	)

	It("merges summaries", func() {
		a := batch.Summary{Total: 2, Success: 1, Failed: 1, Errors: []batch.ItemError{{Item: "x", Message: "bad"}}}
		b := batch.Summary{Total: 1, Success: 1}
		a.Merge(b)
		Expect(a.Total).To(Equal(3))
		Expect(a.Success).To(Equal(2))
		Expect(a.Errors).To(HaveLen(1))
	})
})

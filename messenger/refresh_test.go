package messenger_test

import (
	"errors"
	"time"

	"github.com/goccy/go-json"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/penny-vault/pv-tracker/batch"
	"github.com/penny-vault/pv-tracker/messenger"
	"github.com/spf13/viper"
)

var _ = Describe("Refresh events", func() {
	summary := batch.Summary{
		Total:   3,
		Success: 2,
		Failed:  1,
		Errors:  []batch.ItemError{{Item: "AAPL:NASDAQ", Message: "api error"}},
	}

	It("publishes each refresh kind on its own subject", func() {
		Expect(messenger.Subject("prices")).To(Equal("pvtracker.refresh.prices"))
		Expect(messenger.Subject("rates")).To(Equal("pvtracker.refresh.rates"))
	})

	It("encodes the summary", func() {
		completed := time.Date(2024, 3, 15, 18, 30, 0, 0, time.UTC)
		payload, err := messenger.EncodeRefreshEvent("metals", summary, completed)
		Expect(err).To(BeNil())

		var event messenger.RefreshEvent
		Expect(json.Unmarshal(payload, &event)).To(Succeed())
		Expect(event.Kind).To(Equal("metals"))
		Expect(event.CompletedAt.Equal(completed)).To(BeTrue())
		Expect(event.Summary).To(Equal(summary))
		Expect(string(payload)).To(ContainSubstring(`"item":"AAPL:NASDAQ"`))
	})

	It("refuses to publish before connecting", func() {
		err := messenger.PublishSummary("prices", summary)
		Expect(errors.Is(err, messenger.ErrNotConnected)).To(BeTrue())
	})

	It("is disabled without a server", func() {
		viper.Set("nats.server", "")
		Expect(messenger.Enabled()).To(BeFalse())
		viper.Set("nats.server", "nats://localhost:4222")
		Expect(messenger.Enabled()).To(BeTrue())
		viper.Set("nats.server", "")
	})
})

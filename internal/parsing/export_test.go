package parsing

import (
	"encoding/csv"
	"encoding/json"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Export", func() {
	var record *Record

	BeforeEach(func() {
		record = NewParser(nil, Config{}).Parse(cleanReceipt, nil)
	})

	Describe("ToJSON", func() {
		It("uses the canonical field names", func() {
			data, err := ToJSON(record)
			Expect(err).NotTo(HaveOccurred())

			var out map[string]any
			Expect(json.Unmarshal(data, &out)).To(Succeed())
			Expect(out).To(HaveKey("store_info"))
			Expect(out).To(HaveKey("transaction_info"))
			Expect(out["totals"]).To(HaveKeyWithValue("total", "245.00"))

			items := out["items"].([]any)
			Expect(items[0]).To(HaveKeyWithValue("title", "Pad Kaling Kaling"))
			Expect(items[0]).To(HaveKeyWithValue("deductible_amount", "109.38"))
		})
	})

	Describe("ToCSV", func() {
		It("writes items, totals and the deductible summary", func() {
			data, err := ToCSV(record)
			Expect(err).NotTo(HaveOccurred())

			rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
			Expect(err).NotTo(HaveOccurred())
			Expect(rows[0]).To(Equal(csvHeader))
			Expect(rows[1]).To(Equal([]string{"item", "Pad Kaling Kaling", "1", "218.75", "218.75", "FOOD", "109.38"}))
			Expect(rows).To(ContainElement([]string{"total", "total", "", "", "245.00", "", ""}))
			Expect(rows[len(rows)-1]).To(Equal([]string{"deductible", "", "", "", "", "FOOD", "109.38"}))
		})
	})
})

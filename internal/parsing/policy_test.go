package parsing

import (
	"github.com/shopspring/decimal"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("TablePolicy", func() {
	var policy *TablePolicy

	BeforeEach(func() {
		policy = NewTablePolicy(PurposeBusiness)
	})

	Describe("Categorize", func() {
		It("matches whole words only", func() {
			Expect(policy.Categorize("Grab Car", CategoryOther)).To(Equal(CategoryTransportation))
			Expect(policy.Categorize("Grabber Tool", CategoryOther)).To(Equal(CategoryOther))
		})

		It("prefers transportation over food on overlap", func() {
			Expect(policy.Categorize("Airport Shuttle Coffee", CategoryOther)).To(Equal(CategoryTransportation))
		})

		It("returns the fallback when nothing matches", func() {
			Expect(policy.Categorize("Printer Paper", CategoryEntertainment)).To(Equal(CategoryEntertainment))
		})
	})

	Describe("Fraction", func() {
		It("halves business meals", func() {
			Expect(policy.Fraction(CategoryFood).Equal(decimal.RequireFromString("0.5"))).To(BeTrue())
		})

		It("fully deducts business transportation", func() {
			Expect(policy.Fraction(CategoryTransportation).Equal(decimal.NewFromInt(1))).To(BeTrue())
		})

		When("the purpose is unknown", func() {
			BeforeEach(func() {
				policy = NewTablePolicy(Purpose("charity"))
			})

			It("falls back to the business table", func() {
				Expect(policy.Purpose).To(Equal(PurposeBusiness))
			})
		})

		When("the purpose is employee", func() {
			BeforeEach(func() {
				policy = NewTablePolicy(PurposeEmployee)
			})

			It("fully deducts meals", func() {
				Expect(policy.Fraction(CategoryFood).Equal(decimal.NewFromInt(1))).To(BeTrue())
			})
		})
	})
})

var _ = Describe("Money", func() {
	It("parses currency decorated amounts", func() {
		m, ok := ParseMoney("₱ 1,234.5")
		Expect(ok).To(BeTrue())
		Expect(m.String()).To(Equal("1234.50"))
	})

	It("rejects negatives", func() {
		_, ok := ParseMoney("-5.00")
		Expect(ok).To(BeFalse())
	})

	It("floors subtraction at zero", func() {
		Expect(MustMoney("1.00").Sub(MustMoney("2.00")).String()).To(Equal("0.00"))
	})

	It("reads JSON strings and numbers", func() {
		var a, b Money
		Expect(a.UnmarshalJSON([]byte(`"245.00"`))).To(Succeed())
		Expect(b.UnmarshalJSON([]byte(`245`))).To(Succeed())
		Expect(a.Equal(b)).To(BeTrue())
	})

	It("writes JSON as a fixed string", func() {
		data, err := MustMoney("245").MarshalJSON()
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal(`"245.00"`))
	})
})

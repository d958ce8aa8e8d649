package extraction

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("NeedsVision", func() {
	ok := &Result{RawText: "TOTAL 245.00", Confidence: conf(0.8), Success: true}

	DescribeTable("decision",
		func(local *Result, allowMulti bool, want bool) {
			Expect(NeedsVision(local, allowMulti, DefaultConfidenceFloor)).To(Equal(want))
		},
		Entry("confident local", ok, false, false),
		Entry("multi requested", ok, true, true),
		Entry("no local result", nil, false, true),
		Entry("failed local", &Result{Success: false}, false, true),
		Entry("blank text", &Result{RawText: "  \n", Success: true}, false, true),
		Entry("low confidence", &Result{RawText: "x1", Confidence: conf(0.59), Success: true}, false, true),
		Entry("no confidence reported", &Result{RawText: "x1", Success: true}, false, false),
	)
})

var _ = Describe("PickBest", func() {
	local := &Result{RawText: "TOTAL 1.00", Strategy: LocalOCR, Success: true}
	richVision := &Result{RawText: "TIN 123\nVAT 2.00\nTOTAL 3.00", Strategy: VisionModel, Success: true}

	It("prefers vision with more structured lines and a keyword", func() {
		Expect(PickBest(local, richVision)).To(BeIdenticalTo(richVision))
	})

	It("keeps local when vision has no more structured lines", func() {
		thin := &Result{RawText: "TOTAL 1.00", Strategy: VisionModel, Success: true}
		Expect(PickBest(local, thin)).To(BeIdenticalTo(local))
	})

	It("keeps local when vision failed", func() {
		Expect(PickBest(local, &Result{Strategy: VisionModel, ErrorDetail: "boom"})).To(BeIdenticalTo(local))
	})

	It("uses vision when local is unusable", func() {
		Expect(PickBest(&Result{Strategy: LocalOCR}, richVision)).To(BeIdenticalTo(richVision))
	})

	It("accepts a missing vision result", func() {
		Expect(PickBest(local, nil)).To(BeIdenticalTo(local))
	})

	It("counts currency symbols as keywords", func() {
		peso := &Result{RawText: "Coffee ₱120.00\nCake ₱85.00", Strategy: VisionModel, Success: true}
		Expect(PickBest(local, peso)).To(BeIdenticalTo(peso))
	})

	It("prefers a vision payload with no prose over weak local text", func() {
		weak := &Result{RawText: "JOLLIBEE\nTOTAL 245.00", Confidence: conf(0.3), Strategy: LocalOCR, Success: true}
		jsonOnly := &Result{Structured: []byte(`{"items":[{"title":"Pad Kaling Kaling","price":"218.75"}]}`), Strategy: VisionModel, Success: true}
		Expect(PickBest(weak, jsonOnly)).To(BeIdenticalTo(jsonOnly))
	})

	It("ignores a payload with no items or totals", func() {
		empty := &Result{Structured: []byte(`{"items":[],"totals":{"total":null}}`), Strategy: VisionModel, Success: true}
		Expect(PickBest(local, empty)).To(BeIdenticalTo(local))
	})
})

var _ = Describe("HasReceiptPayload", func() {
	DescribeTable("detection",
		func(payload string, want bool) {
			Expect(HasReceiptPayload([]byte(payload))).To(Equal(want))
		},
		Entry("items", `{"items":[{"title":"Water"}]}`, true),
		Entry("a total", `{"totals":{"total":"245.00"}}`, true),
		Entry("only nulls", `{"totals":{"vat":null},"items":[]}`, false),
		Entry("store info only", `{"store_info":{"name":"JOLLIBEE"}}`, false),
		Entry("empty", ``, false),
		Entry("not JSON", `{"items":`, false),
	)
})

var _ = Describe("StructuredLines", func() {
	It("counts lines with both letters and digits", func() {
		Expect(StructuredLines("STORE\nTOTAL 5.00\n\n12.00\nx1 Rice")).To(Equal(2))
	})
})

var _ = Describe("ExtractJSON", func() {
	It("finds an object surrounded by prose", func() {
		raw, ok := ExtractJSON(`Here you go: {"a": {"b": 1}} hope that helps {"c": 2}`)
		Expect(ok).To(BeTrue())
		Expect(string(raw)).To(Equal(`{"a": {"b": 1}}`))
	})

	It("ignores braces inside strings", func() {
		raw, ok := ExtractJSON(`{"note": "use } and { freely", "n": "\"}"}`)
		Expect(ok).To(BeTrue())
		Expect(string(raw)).To(Equal(`{"note": "use } and { freely", "n": "\"}"}`))
	})

	It("skips malformed candidates", func() {
		raw, ok := ExtractJSON(`{not json} then {"ok": true}`)
		Expect(ok).To(BeTrue())
		Expect(string(raw)).To(Equal(`{"ok": true}`))
	})

	It("returns false without an object", func() {
		_, ok := ExtractJSON("no json here")
		Expect(ok).To(BeFalse())
	})

	It("returns false for an unbalanced object", func() {
		_, ok := ExtractJSON(`{"a": 1`)
		Expect(ok).To(BeFalse())
	})
})

package parsing

// merge overlays the model-structured record on the pattern-based one. Any
// value the model provided wins; empty strings and nil amounts fall through
// to the pattern value. Items are taken as a whole from one side.
func merge(model, pattern *Record) *Record {
	if model == nil {
		return pattern
	}
	if pattern == nil {
		return model
	}

	out := &Record{
		StoreInfo: StoreInfo{
			Name:    firstString(model.StoreInfo.Name, pattern.StoreInfo.Name),
			TIN:     firstString(model.StoreInfo.TIN, pattern.StoreInfo.TIN),
			Branch:  firstString(model.StoreInfo.Branch, pattern.StoreInfo.Branch),
			Address: firstString(model.StoreInfo.Address, pattern.StoreInfo.Address),
		},
		TransactionInfo: TransactionInfo{
			Date:          firstString(model.TransactionInfo.Date, pattern.TransactionInfo.Date),
			Time:          firstString(model.TransactionInfo.Time, pattern.TransactionInfo.Time),
			PaymentMethod: firstString(model.TransactionInfo.PaymentMethod, pattern.TransactionInfo.PaymentMethod),
		},
		Totals: Totals{
			Subtotal:      firstMoney(model.Totals.Subtotal, pattern.Totals.Subtotal),
			VAT:           firstMoney(model.Totals.VAT, pattern.Totals.VAT),
			ServiceCharge: firstMoney(model.Totals.ServiceCharge, pattern.Totals.ServiceCharge),
			Discount:      firstMoney(model.Totals.Discount, pattern.Totals.Discount),
			Total:         firstMoney(model.Totals.Total, pattern.Totals.Total),
		},
		Metadata: Metadata{
			Currency:         firstString(model.Metadata.Currency, pattern.Metadata.Currency),
			VATRate:          model.Metadata.VATRate,
			BIRAccreditation: firstString(model.Metadata.BIRAccreditation, pattern.Metadata.BIRAccreditation),
			SerialNumber:     firstString(model.Metadata.SerialNumber, pattern.Metadata.SerialNumber),
		},
	}
	if out.Metadata.VATRate == 0 {
		out.Metadata.VATRate = pattern.Metadata.VATRate
	}

	if len(model.Items) > 0 {
		out.Items = model.Items
	} else {
		out.Items = pattern.Items
	}
	return out
}

func firstString(preferred, fallback string) string {
	if preferred != "" {
		return preferred
	}
	return fallback
}

func firstMoney(preferred, fallback *Money) *Money {
	if preferred != nil {
		return preferred
	}
	return fallback
}

package llm

import "strings"

// Document-type specific guidance appended to the analysis prompt. Types not
// listed here fall back to the generic context.
var docTypeContexts = map[string]string{
	"identity_document": `Focus on identity documents (passports, national ID cards, driving licences).
Check for: mismatched fonts near name or date fields, implausible issue/expiry dates,
invalid document number formats, signs of photo substitution described in the text.
Extract into extractedData: full_name, date_of_birth, address, document_number, expiry_date.`,

	"pay_slip": `Focus on pay slips. Check for: gross/net/deduction figures that do not add up,
round-number salaries, missing employer tax references, formatting inconsistent with
the stated payroll provider. Extract into extractedData: full_name, address, employer_name,
pay_period, gross_pay, net_pay (numeric, monthly).`,

	"bank_statement": `Focus on bank statements. Check for: running balances that do not reconcile
with listed transactions, duplicated transaction lines, statement periods that overlap or
run into the future, salary credits inconsistent with the account history.
Extract into extractedData: full_name, address, statement_period_start, statement_period_end
(ISO dates), average_monthly_credit (numeric).`,

	"utility_bill": `Focus on utility bills. Check for: billing periods inconsistent with the issue
date, supplier details that do not match known formats, usage figures wildly out of line
with the billed amount. Extract into extractedData: full_name, address, issue_date, supplier_name.`,

	"tax_return": `Focus on tax returns and assessments. Check for: declared income inconsistent
across sections, missing reference numbers, arithmetic errors in totals.
Extract into extractedData: full_name, address, tax_year, declared_income (numeric, annual).`,
}

const genericDocContext = `Analyze the document for signs of tampering, fabrication or internal
inconsistency. Extract any of these fields present in the text into extractedData:
full_name, date_of_birth, address.`

// DocTypeContext returns the analysis guidance for a document type.
func DocTypeContext(docType string) string {
	if ctx, ok := docTypeContexts[strings.ToLower(strings.TrimSpace(docType))]; ok {
		return ctx
	}
	return genericDocContext
}

package context

// TemplateAssembler renders history into a parsed prompt template.
type TemplateAssembler struct {
	Template *Template
}

// Assemble formats history oldest first into the {history} slot and input
// into the {input} slot.
func (a *TemplateAssembler) Assemble(history []Exchange, input string) string {
	return a.Template.Execute(FormatHistory(history), input)
}

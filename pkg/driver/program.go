// pkg/driver/program.go
package driver

import (
	"fmt"
	"strings"
	"unicode"

	"dnc-service/internal/model"
)

// ProgramCheck lists the deviations found in a program text.
// Legacy controllers accept most of them, so they never fail a command.
type ProgramCheck struct {
	Warnings []string `json:"warnings"`
	Lines    int      `json:"lines"`
}

// Valid reports whether no warnings were raised
func (pc ProgramCheck) Valid() bool {
	return len(pc.Warnings) == 0
}

// ValidateProgram checks that a program looks like a tape-format part program
func ValidateProgram(program string) (ProgramCheck, error) {
	text := strings.TrimSpace(program)
	if text == "" {
		return ProgramCheck{}, model.Errorf(model.ErrorKindValidation, "validate program", "program is empty")
	}

	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	check := ProgramCheck{Lines: len(lines)}

	if !strings.HasPrefix(strings.TrimSpace(lines[0]), "%") {
		check.Warnings = append(check.Warnings, "program is missing the '%' start marker")
	}
	if !strings.HasSuffix(strings.TrimSpace(lines[len(lines)-1]), "%") {
		check.Warnings = append(check.Warnings, "program is missing the '%' end marker")
	}

	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || line == "%" || strings.HasPrefix(line, "(") {
			continue
		}
		// program number blocks such as O1234 carry no sequence number
		if strings.HasPrefix(line, "O") || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "N") {
			check.Warnings = append(check.Warnings, fmt.Sprintf("line %d has no N sequence number", i+1))
		}
	}
	return check, nil
}

const (
	// tokenDelimiters separate fields in the controller line grammars
	tokenDelimiters = " \t;,()="
	// valueDelimiters end a value or a parameter list in a block
	valueDelimiters = ";,()"
)

// checkToken rejects identifiers that would split or terminate an encoded block
func checkToken(op, field, value string) error {
	if strings.TrimSpace(value) == "" {
		return model.Errorf(model.ErrorKindValidation, op, "%s is required", field)
	}
	if hasControl(value) || strings.ContainsAny(value, tokenDelimiters) {
		return model.Errorf(model.ErrorKindValidation, op, "%s %q contains a control character or delimiter", field, value)
	}
	return nil
}

// checkValue rejects values that would end the block they are written into
func checkValue(op, field, value, delimiters string) error {
	if hasControl(value) || strings.ContainsAny(value, delimiters) {
		return model.Errorf(model.ErrorKindValidation, op, "%s %q contains a control character or delimiter", field, value)
	}
	return nil
}

func hasControl(s string) bool {
	return strings.IndexFunc(s, unicode.IsControl) >= 0
}

// ValidateCommand rejects payloads no controller could accept and
// returns program warnings for Execute commands that carry program text.
// Text fields must not carry line breaks or block delimiters.
func ValidateCommand(cmd *model.Command) ([]string, error) {
	const op = "validate command"

	if cmd == nil {
		return nil, model.Errorf(model.ErrorKindValidation, op, "command is nil")
	}

	switch p := cmd.Payload.(type) {
	case model.ReadPayload:
		if err := checkToken(op, "read address", p.Address); err != nil {
			return nil, err
		}
		if p.Length <= 0 {
			return nil, model.Errorf(model.ErrorKindValidation, op, "read length must be positive, got %d", p.Length)
		}
	case model.WritePayload:
		if err := checkToken(op, "write address", p.Address); err != nil {
			return nil, err
		}
		if strings.ContainsAny(p.Data, "\r\n") {
			return nil, model.Errorf(model.ErrorKindValidation, op, "write data must be a single line")
		}
		if err := checkValue(op, "write data", p.Data, ";()"); err != nil {
			return nil, err
		}
	case model.ExecutePayload:
		if err := checkToken(op, "program number", p.ProgramNumber); err != nil {
			return nil, err
		}
		for key, value := range p.Parameters {
			if key == "" || hasControl(key) || strings.ContainsAny(key, tokenDelimiters) {
				return nil, model.Errorf(model.ErrorKindValidation, op, "invalid parameter name %q", key)
			}
			if text, ok := value.(string); ok {
				if err := checkValue(op, "parameter "+key, text, valueDelimiters+" ="); err != nil {
					return nil, err
				}
			}
		}
		if p.Program != "" {
			check, err := ValidateProgram(p.Program)
			if err != nil {
				return nil, err
			}
			return check.Warnings, nil
		}
	case model.QueryPayload:
		if err := checkToken(op, "query type", p.QueryType); err != nil {
			return nil, err
		}
	default:
		return nil, model.Errorf(model.ErrorKindValidation, op, "unexpected payload %T for %s", cmd.Payload, cmd.Kind)
	}
	return nil, nil
}

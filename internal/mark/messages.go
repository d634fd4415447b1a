package mark

import "fmt"

func wrongMethodMessage(name string, allowed []string) string {
	return fmt.Sprintf("Unexpected method name '%s', expected '%s'.", name, FormatMethods(allowed))
}

func bareCallMessage(completion string, allowed []string) string {
	return fmt.Sprintf("Unexpected call to '%s', expected call to its methods '%s'.", completion, FormatMethods(allowed))
}

func missingCallMessage(completion string, allowed []string) string {
	return fmt.Sprintf("Missing call to a method of '%s' on this code path, expected '%s'.", completion, FormatMethods(allowed))
}

func duplicateCallMessage(name string) string {
	return fmt.Sprintf("Unexpected multiple call to '%s'.", name)
}

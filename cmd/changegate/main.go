// Changegate - Change Admission Engine
// Rate. Gate. Audit.
package main

func main() {
	Execute()
}

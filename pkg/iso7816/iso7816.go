/*
Package iso7816 implements data structures and logic to interact with smart cards according to the ISO/IEC 7816 standard.

This package provides the fundamental building blocks for APDU (Application Protocol Data Unit) communication, including Command and Response structures, Status Word (SW) analysis, and constructors for the commands the reading engine issues (SELECT, READ BINARY, GET CHALLENGE, EXTERNAL AUTHENTICATE, GENERAL AUTHENTICATE, MANAGE SECURITY ENVIRONMENT).

# Fundamentals

The communication with a smart card is strictly synchronous:
 1. The Host sends a Command APDU (Header + Optional Body).
 2. The Card processes it and returns a Response APDU (Optional Body + Trailer SW1/SW2).

# Status Words

Every response ends with a 2-byte Status Word (SW).
  - 0x9000: Success (OK).
  - 0x61XX: Success, but response data is still available (XX bytes).
  - 0x6CXX: Error, wrong length expectation (XX is the correct length).
  - Other: Various error conditions.

# Transport Quirks

The Client hides the T=0 protocol quirks: it re-issues commands answered with
0x6CXX using the corrected length, and drains 0x61XX continuations with GET
RESPONSE. Callers see one logical exchange per Send, with the full
command/response trace available for diagnostics.

# Usage Example: Reading a File

	client := iso7816.NewClient(card)
	cla, _ := iso7816.NewClass(0x00)

	trace, err := client.Send(iso7816.SelectEF(cla, 0x011E))
	if err != nil {
	    log.Fatal(err)
	}
	if !trace.MergedResponse().Status.IsSuccess() {
	    log.Fatalf("select failed: %v", trace.MergedResponse().Status)
	}

	cmd, _ := iso7816.ReadBinary(cla, 0, 32)
	trace, err = client.Send(cmd)
	if err != nil {
	    log.Fatal(err)
	}
	fmt.Printf("%X\n", trace.MergedResponse().Data)
*/
package iso7816

/*
package ceremony coordinates a multi-party trusted setup for zk-SNARK
parameters: a universal Powers-of-Tau accumulator (phase 1) and a circuit
specific proving and verifying key (phase 2).

Lifecycle
====================================================================================================
A Coordinator drives one ceremony instance through these stages:

	Uninitialized -> Initialized -> AwaitingContribution* -> AwaitingBeacon -> BeaconApplied -> Finalized

Contributions are appended one at a time. Each one is written to a
temporary location, checked by the cryptography engine against the artifact
it claims to extend, and only then promoted to the store and recorded in the
ceremony history. A contribution that fails the check leaves the ceremony
exactly as it was. While a check runs the ceremony reports the Verifying
stage.

Contributors that cannot reach the coordinator directly use the
challenge/response exchange: the coordinator issues a challenge, the
contributor answers it offline with ContributeChallenge and the coordinator
imports the response. Only the most recently issued challenge can be
answered. The secret entropy of a contribution never leaves the
contributor's machine; this is a property of how contributors run the
tool, the coordinator cannot check it.

Once participation is closed, Finalize re-verifies the whole history,
applies a public random beacon, re-verifies the result, derives the final
parameters (and for a zkey the verification key and verifier contract) and
persists them. Nothing terminal is written unless every check passed.
*/
package ceremony

/*
package setup is the cryptography engine of BN254 trusted setup ceremonies,
backed by the gnark mpcsetup implementation of the Groth16 MPC protocol.

Phase 1 (Powers of Tau)
====================================================================================================
The accumulator payload is a serialized mpcsetup.Phase1 holding the powers of a secret tau, together
with alpha and beta shifted powers and the proofs of the last update. Every contribution multiplies
the secrets by fresh randomness and proves knowledge of it, so a single honest participant is
enough for nobody to know tau.

Once participation is closed, the chain is verified and sealed with a public beacon: the result
are the SRS commons (mpcsetup.SrsCommons). The final accumulator payload holds the commons and the
KZG SRS derived from them, usable to set up Plonk circuits (see PlonkSetup).

Phase 2 (circuit keys)
====================================================================================================
A circuit key payload is a serialized mpcsetup.Phase2, initialized from an R1CS and the commons of a
finalized accumulator truncated to the circuit domain. Contributions update the delta secret.
Sealing verifies the chain, applies the beacon and extracts the Groth16 proving and verifying keys.

Plonk needs no circuit specific phase: PlonkSetup derives its keys straight from the KZG SRS of a
finalized accumulator or from a snarkjs .ptau file (ImportSnarkjsPTau), such as the ones of the
perpetual powers-of-tau ceremony:
https://github.com/privacy-scaling-explorations/perpetualpowersoftau
*/
package setup

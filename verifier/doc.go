/*
package verifier exports the verifying keys of Groth16 and Plonk circuits on
BN254, as a snarkjs style verification_key.json and as verifier smart
contracts for the Algorand AVM. The proving system is read off the concrete
key type, see Variant.

The generated smart contract verifiers are ARC4 contracts with the following
ABI methods:

`create` is used to create the application and will set two global properties,
- `app_name` with the provided name
- `immutable` with `false`

	@abimethod(create='require')
	def create(self, name: String) -> None:

`update` allows the creator to update / delete the application unless the
`immutable` property has been set to `true`

	@abimethod(allow_actions=["UpdateApplication", "DeleteApplication"])
	def update(self) -> None:

`make_immutable` allows the creator to set the `immutable` property to `true`,
making the contract fully decentralized with no one able to further modify or
delete it.

	@abimethod
	def make_immutable(self) -> None:

`verify` takes as parameters a proof and public inputs as exported by
MarshalProof and MarshalPublicInputs, split in 32 bytes words, and returns
`True` if the proof is valid, `False` otherwise

	@abimethod
	def verify(self, proof: ..., public_inputs: ...) -> arc4.Bool:

A Groth16 proof is 8 words: A, B, C. Verification is a single pairing check,
e(-A, B) e(alpha, beta) e(L, gamma) e(C, delta) == 1, where L is the linear
combination of the IC points with the public inputs.

A Plonk proof is 25 words: L, R, O, H0, H1, H2, the openings at zeta of
l, r, o, s1, s2, the commitment Z with its opening at omega*zeta, the opening of
the linearised polynomial and the two KZG opening quotients. The verifier
replays the prover transcript, checks the linearised opening and folds all the
openings in a single pairing check against the two G2 points of the SRS.
Plonk verifiers do not support custom gates.
*/
package verifier

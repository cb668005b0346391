package codec

/*

# On-disk format for basic Bloom filters

Three layout generations exist. Only the newest is written; all three are
read. A generation is recognised by the first 36 bytes of the stream, which
are either one of the known UUID markers or anything else (legacy).

	generation   marker     fields after the marker
	legacy       none       n | bits
	v2           MarkerV2   K | z | canonical | n | bits
	v3           MarkerV3   K | z | canonical | hashCount | n | bits

All integers are unsigned 64-bit little-endian; canonical is one byte, zero
meaning false. bits holds ceil(n/8) bytes where cell i lives in bit (i mod 8)
of byte (i div 8). Unused high bits of the final byte are written as zero
and ignored on read.

K, z and canonical belong to the caller. The codec carries them without
interpretation. Generations that do not store hashCount load with one hash
function, and legacy streams load with zero metadata.

A stream whose leading bytes match neither marker is always decoded as
legacy, including foreign or corrupted files. The two cases cannot be told
apart from the bytes alone.

*/
